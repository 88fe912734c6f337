package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/stream"
	"mercator-hq/lmserver/pkg/telemetry/tracing"
)

// DefaultInitiatorHeader tells the upstream whether a person or an agent
// loop produced the request.
const DefaultInitiatorHeader = "X-Initiator"

// Config configures a Fetcher.
type Config struct {
	// Client overrides the pooled client built from the fields below.
	Client *http.Client

	// Timeout bounds a whole upstream exchange. Zero means no limit.
	Timeout time.Duration

	MaxRetries   int
	RetryBackoff time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	InitiatorHeader string

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Request is one upstream exchange.
type Request struct {
	Endpoint      endpoint.Endpoint
	Options       endpoint.RequestOptions
	RequestID     string
	UserInitiated bool
}

// Result describes a completed exchange.
type Result struct {
	Completions []stream.Completion
	StatusCode  int
	Attempts    int
	Duration    time.Duration
}

// Last returns the final completion, or nil when none was decoded.
func (r *Result) Last() *stream.Completion {
	if r == nil || len(r.Completions) == 0 {
		return nil
	}
	return &r.Completions[len(r.Completions)-1]
}

// Fetcher sends requests built by an Endpoint and hands accepted responses
// back to it. It is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client *http.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// NewFetcher creates a Fetcher with a pooled HTTP client.
func NewFetcher(cfg Config) *Fetcher {
	client := cfg.Client
	if client == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			ForceAttemptHTTP2:   true,
		}
		client = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}
	if cfg.InitiatorHeader == "" {
		cfg.InitiatorHeader = DefaultInitiatorHeader
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("lmserver/upstream")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		cfg:    cfg,
		client: client,
		tracer: tracer,
		logger: logger.With("component", "upstream"),
	}
}

// Fetch sends req and drains the completions produced by the endpoint's
// ProcessResponse. Network errors and 5xx responses are retried with
// exponential backoff until a response is accepted; nothing is retried after
// that point. A 4xx response is returned immediately as *Error.
//
// The returned Result is never nil. On error it carries the attempts made
// and the upstream status, if any.
//
// When ctx is cancelled while the response is being consumed, Fetch returns
// the completions decoded so far and a nil error; callers check ctx.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	ep := req.Endpoint
	start := time.Now()
	result := &Result{}

	ctx, span := f.tracer.Start(ctx, "upstream.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(tracing.AttrModel, ep.Model()),
			attribute.String("lmserver.api_type", string(ep.APIType())),
			attribute.String(tracing.AttrRequestID, req.RequestID),
		),
	)
	defer span.End()

	body, err := ep.CreateRequestBody(req.Options)
	if err != nil {
		tracing.SetError(span, err)
		return result, fmt.Errorf("failed to build request body: %w", err)
	}

	resp, attempts, err := f.send(ctx, req, body)
	result.Attempts = attempts
	if err != nil {
		result.StatusCode = StatusCode(err)
		result.Duration = time.Since(start)
		tracing.SetError(span, err)
		span.SetAttributes(
			attribute.Int(tracing.AttrStatusCode, result.StatusCode),
			attribute.Int(tracing.AttrAttempts, attempts),
		)
		return result, err
	}
	result.StatusCode = resp.StatusCode
	span.SetAttributes(
		attribute.Int(tracing.AttrStatusCode, resp.StatusCode),
		attribute.Int(tracing.AttrAttempts, attempts),
	)

	completions, err := ep.ProcessResponse(ctx, resp)
	if err != nil {
		_ = resp.Body.Close()
		tracing.SetError(span, err)
		return result, fmt.Errorf("failed to process response: %w", err)
	}

	for c := range completions {
		result.Completions = append(result.Completions, c)
	}
	result.Duration = time.Since(start)

	if last := result.Last(); last != nil {
		tracing.SetUsageAttributes(span,
			last.Usage.PromptTokens,
			last.Usage.CompletionTokens,
			last.Usage.CachedTokens,
			string(last.FinishReason),
		)
	}
	if ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("lmserver.canceled", true))
	}
	return result, nil
}

func (f *Fetcher) send(ctx context.Context, req Request, body []byte) (*http.Response, int, error) {
	ep := req.Endpoint
	url := ep.URL()
	var lastErr error

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := f.backoff(attempt)
			var ue *Error
			if errors.As(lastErr, &ue) && ue.RetryAfter > wait {
				wait = ue.RetryAfter
			}
			f.logger.DebugContext(ctx, "retrying upstream request",
				"model", ep.Model(),
				"attempt", attempt,
				"max_retries", f.cfg.MaxRetries,
				"backoff", wait,
				"error", lastErr,
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt, ctx.Err()
			case <-timer.C:
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, attempt + 1, fmt.Errorf("failed to create request: %w", err)
		}
		f.setHeaders(ctx, httpReq, req)

		resp, err := f.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempt + 1, ctx.Err()
			}
			lastErr = fmt.Errorf("upstream %s: %w", ep.Model(), err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if resp.Body == nil {
				return nil, attempt + 1, ErrNoBody
			}
			return resp, attempt + 1, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		ue := newError(ep.Model(), resp, msg)
		f.logger.WarnContext(ctx, "upstream returned error status",
			"model", ep.Model(),
			"status", resp.StatusCode,
			"attempt", attempt+1,
		)
		if !ue.Retryable() {
			return nil, attempt + 1, ue
		}
		lastErr = ue
	}

	return nil, f.cfg.MaxRetries + 1, lastErr
}

func (f *Fetcher) setHeaders(ctx context.Context, httpReq *http.Request, req Request) {
	for k, vs := range req.Endpoint.Headers() {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.RequestID != "" {
		httpReq.Header.Set(stream.ClientRequestIDHeader, req.RequestID)
	}
	if req.UserInitiated {
		httpReq.Header.Set(f.cfg.InitiatorHeader, "user")
	} else {
		httpReq.Header.Set(f.cfg.InitiatorHeader, "agent")
	}
	tracing.Inject(ctx, httpReq.Header)
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	base := f.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d <= 0 || d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
