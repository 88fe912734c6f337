package passthrough

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/sse"
	"mercator-hq/lmserver/pkg/stream"
	"mercator-hq/lmserver/pkg/telemetry/logging"
)

// DefaultUserAgentPrefix is the product name placed in front of the caller's
// user-agent version.
const DefaultUserAgentPrefix = "vscode_claude_code"

const readBufferSize = 32 * 1024

// ErrInvalidBody is returned when the caller's raw body is not a JSON object.
var ErrInvalidBody = errors.New("request body is not a JSON object")

// Options bind an Adapter to one inbound request.
type Options struct {
	// Writer receives every upstream byte verbatim.
	Writer http.ResponseWriter

	// RequestBody is the caller's raw JSON body, with the model already
	// rewritten to the selected endpoint.
	RequestBody []byte

	// Headers are the inbound request headers.
	Headers http.Header

	// UserAgentPrefix replaces the product part of the caller's User-Agent.
	UserAgentPrefix string

	// MaxPromptTokens and MaxOutputTokens override the base endpoint limits.
	// Zero keeps the base value.
	MaxPromptTokens int
	MaxOutputTokens int

	Logger *slog.Logger

	// OnBytes is called after each chunk is written to Writer.
	OnBytes func(n int)

	// OnMalformed is called for each event the accumulator rejects.
	OnMalformed func(eventType string, err error)
}

// Adapter decorates an endpoint for one pass-through request. Metadata is
// delegated to the embedded endpoint; transport, headers, limits, body
// construction and response handling are overridden.
//
// An Adapter is owned by a single request handler and must not be reused.
type Adapter struct {
	endpoint.Endpoint

	opts      Options
	logger    *slog.Logger
	forwarded atomic.Int64
	started   atomic.Bool
}

var _ endpoint.Endpoint = (*Adapter)(nil)

// New wraps base for a single request.
func New(base endpoint.Endpoint, opts Options) *Adapter {
	if opts.UserAgentPrefix == "" {
		opts.UserAgentPrefix = DefaultUserAgentPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		Endpoint: base,
		opts:     opts,
		logger:   logger.With("component", "passthrough", "model", base.Model()),
	}
}

// APIType always reports the Messages API.
func (a *Adapter) APIType() endpoint.APIType {
	return endpoint.APIMessages
}

// URL is the base endpoint's Messages API URL.
func (a *Adapter) URL() string {
	return a.Endpoint.URLFor(endpoint.APIMessages)
}

// ModelMaxPromptTokens returns the prompt override given at construction,
// or the base endpoint's limit when none was given.
func (a *Adapter) ModelMaxPromptTokens() int {
	if a.opts.MaxPromptTokens > 0 {
		return a.opts.MaxPromptTokens
	}
	return a.Endpoint.ModelMaxPromptTokens()
}

// MaxOutputTokens returns the output override given at construction, or
// the base endpoint's limit when none was given.
func (a *Adapter) MaxOutputTokens() int {
	if a.opts.MaxOutputTokens > 0 {
		return a.opts.MaxOutputTokens
	}
	return a.Endpoint.MaxOutputTokens()
}

// Headers returns the base headers with the caller's User-Agent rewritten.
func (a *Adapter) Headers() http.Header {
	h := a.Endpoint.Headers()
	if h == nil {
		h = make(http.Header)
	}
	var ua string
	if a.opts.Headers != nil {
		ua = a.opts.Headers.Get("User-Agent")
	}
	h.Set("User-Agent", RewriteUserAgent(ua, a.opts.UserAgentPrefix))
	return h
}

// RewriteUserAgent replaces everything before the first '/' of ua with
// prefix. A ua without '/' is appended after prefix.
func RewriteUserAgent(ua, prefix string) string {
	if ua == "" {
		return prefix
	}
	if _, rest, ok := strings.Cut(ua, "/"); ok {
		return prefix + "/" + rest
	}
	return prefix + "/" + ua
}

// CreateRequestBody builds the base endpoint's body and merges the caller's
// top-level fields over it. Caller values always win.
func (a *Adapter) CreateRequestBody(opts endpoint.RequestOptions) ([]byte, error) {
	body, err := a.Endpoint.CreateRequestBody(opts)
	if err != nil {
		if !errors.Is(err, endpoint.ErrNotImplemented) {
			return nil, err
		}
		body = []byte("{}")
	}
	return Merge(body, a.opts.RequestBody)
}

// Merge shallow-merges the top-level keys of overlay into base. Nested
// objects are replaced, not merged.
func Merge(base, overlay []byte) ([]byte, error) {
	if len(overlay) == 0 {
		return base, nil
	}
	if !gjson.ValidBytes(overlay) {
		return nil, ErrInvalidBody
	}
	parsed := gjson.ParseBytes(overlay)
	if !parsed.IsObject() {
		return nil, ErrInvalidBody
	}
	if len(base) == 0 || !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsObject() {
		base = []byte("{}")
	}

	out := base
	var mergeErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		out, mergeErr = sjson.SetRawBytes(out, gjson.Escape(key.String()), []byte(value.Raw))
		return mergeErr == nil
	})
	if mergeErr != nil {
		return nil, fmt.Errorf("failed to merge request body: %w", mergeErr)
	}
	return out, nil
}

// ProcessResponse forwards the upstream body to the caller chunk by chunk
// and, from the same bytes, decodes completions for telemetry. Cancellation
// is checked before every read. The body is closed exactly once, whether the
// loop ends by EOF, cancellation, or a write failure.
func (a *Adapter) ProcessResponse(ctx context.Context, resp *http.Response) (<-chan stream.Completion, error) {
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("passthrough %s: empty response", a.Model())
	}
	if !a.started.CompareAndSwap(false, true) {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("passthrough %s: response already processed", a.Model())
	}

	out := make(chan stream.Completion)

	var once sync.Once
	closeBody := func() {
		once.Do(func() {
			if err := resp.Body.Close(); err != nil {
				a.logger.Debug("failed to close upstream body", "error", err)
			}
		})
	}
	stop := context.AfterFunc(ctx, closeBody)

	flusher, _ := a.opts.Writer.(http.Flusher)

	go func() {
		defer close(out)
		defer stop()
		defer closeBody()

		acc := stream.NewAccumulator(stream.RequestIDsFromHeader(resp.Header))
		parser := sse.NewParser(func(ev sse.Event) {
			a.logger.Log(ctx, logging.LevelTrace, "stream event", "event", ev.Type, "bytes", len(ev.Data))
			c, ok, err := acc.Push(ev.Type, []byte(ev.Data))
			if err != nil {
				a.logger.Warn("failed to decode stream event", "event", ev.Type, "error", err)
				if a.opts.OnMalformed != nil {
					a.opts.OnMalformed(ev.Type, err)
				}
				return
			}
			if ok {
				select {
				case out <- c:
				case <-ctx.Done():
				}
			}
		})

		buf := make([]byte, readBufferSize)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if a.opts.Writer != nil {
					if _, werr := a.opts.Writer.Write(chunk); werr != nil {
						a.logger.Warn("failed to write to client", "error", werr)
						return
					}
					if flusher != nil {
						flusher.Flush()
					}
				}
				a.forwarded.Add(int64(n))
				if a.opts.OnBytes != nil {
					a.opts.OnBytes(n)
				}
				a.logger.Log(ctx, logging.LevelTrace, "forwarded chunk", "bytes", n)
				parser.Feed(chunk)
			}
			if err != nil {
				if err == io.EOF {
					parser.Flush()
				} else if ctx.Err() == nil {
					a.logger.Warn("upstream read failed", "error", err)
				}
				return
			}
		}
	}()

	return out, nil
}

// BytesForwarded reports how many upstream bytes reached the caller.
func (a *Adapter) BytesForwarded() int64 {
	return a.forwarded.Load()
}

// Forwarded reports whether any upstream byte reached the caller.
func (a *Adapter) Forwarded() bool {
	return a.forwarded.Load() > 0
}

// MakeChatRequest is not supported by pass-through requests.
func (a *Adapter) MakeChatRequest(context.Context, endpoint.RequestOptions) (*stream.Completion, error) {
	return nil, fmt.Errorf("passthrough MakeChatRequest: %w", endpoint.ErrNotImplemented)
}

// CloneWithTokenOverride is not supported by pass-through requests.
func (a *Adapter) CloneWithTokenOverride(int) (endpoint.Endpoint, error) {
	return nil, fmt.Errorf("passthrough CloneWithTokenOverride: %w", endpoint.ErrNotImplemented)
}
