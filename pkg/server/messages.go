package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/ledger"
	"mercator-hq/lmserver/pkg/passthrough"
	"mercator-hq/lmserver/pkg/proxy"
	"mercator-hq/lmserver/pkg/proxy/middleware"
	"mercator-hq/lmserver/pkg/proxy/types"
	"mercator-hq/lmserver/pkg/selection"
	"mercator-hq/lmserver/pkg/stream"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
	"mercator-hq/lmserver/pkg/telemetry/tracing"
	"mercator-hq/lmserver/pkg/transcript"
	"mercator-hq/lmserver/pkg/upstream"
)

// APIKeyHeader carries the nonce.
const APIKeyHeader = "x-api-key"

// location tags upstream requests issued by this listener.
const location = "messages_proxy"

func (s *Server) authenticate(r *http.Request) bool {
	key := r.Header.Get(APIKeyHeader)
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.Nonce)) == 1
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if !s.authenticate(r) {
		s.logger.WarnContext(ctx, "rejected request with invalid api key", "path", r.URL.Path)
		_ = proxy.WriteError(w, http.StatusUnauthorized, ErrInvalidAuthentication.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = proxy.WriteError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge.Error())
			return
		}
		s.logger.ErrorContext(ctx, "failed to read request body", "error", err)
		_ = proxy.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req, err := types.ParseMessagesRequest(body)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse request body", "error", err)
		_ = proxy.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	userInitiated := req.UserInitiated()

	ctx = tracing.Extract(ctx, r.Header)
	ctx, span := s.tracer.Start(ctx, "messages",
		trace.WithSpanKind(trace.SpanKindServer),
		tracing.NewAttributeBuilder().
			WithRequest(requestID, userInitiated).
			WithString(tracing.AttrRequestedModel, req.Model).
			Build(),
	)
	defer span.End()

	selected, status, err := s.selectEndpoint(ctx, req.Model)
	if err != nil {
		tracing.SetError(span, err)
		_ = proxy.WriteError(w, status, err.Error())
		return
	}
	model := selected.Model()
	tracing.SetSelectionAttributes(span, req.Model, model, selected.Name())

	body, err = sjson.SetBytes(body, "model", model)
	if err != nil {
		tracing.SetError(span, err)
		_ = proxy.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	proxy.StartStream(w)

	upstreamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var completed, canceled atomic.Bool
	stop := context.AfterFunc(r.Context(), func() {
		if completed.Load() {
			return
		}
		canceled.Store(true)
		s.logger.InfoContext(ctx, "client disconnected before completion", "model", model)
		s.deps.Metrics.RecordCancellation(routeMessages)
		cancel()
	})
	defer stop()

	var firstByte sync.Once
	adapter := passthrough.New(selected, passthrough.Options{
		Writer:          w,
		RequestBody:     body,
		Headers:         r.Header,
		UserAgentPrefix: s.opts.UserAgentPrefix,
		MaxPromptTokens: s.opts.MaxPromptTokens,
		MaxOutputTokens: s.opts.MaxOutputTokens,
		Logger:          s.logger,
		OnBytes: func(n int) {
			firstByte.Do(func() {
				s.deps.Metrics.RecordTimeToFirstByte(model, time.Since(start))
			})
			s.deps.Metrics.AddForwardedBytes(model, n)
		},
		OnMalformed: func(eventType string, _ error) {
			s.deps.Metrics.RecordMalformedEvent(model, eventType)
		},
	})

	result, err := s.deps.Fetcher.Fetch(upstreamCtx, upstream.Request{
		Endpoint: adapter,
		Options: endpoint.RequestOptions{
			Messages:      s.buildTranscript(ctx, body),
			MaxTokens:     req.MaxTokens,
			Stream:        true,
			Location:      location,
			UserInitiated: userInitiated,
			RequestID:     requestID,
		},
		RequestID:     requestID,
		UserInitiated: userInitiated,
	})
	completed.Store(true)

	wasCanceled := canceled.Load()
	if err != nil && !wasCanceled {
		tracing.SetError(span, err)
		s.logger.ErrorContext(ctx, "upstream request failed",
			"model", model,
			"attempts", result.Attempts,
			"status", result.StatusCode,
			"error", err,
		)
		if !adapter.Forwarded() {
			if werr := proxy.WriteSSEError(w, proxy.HandleError(err)); werr != nil {
				s.logger.WarnContext(ctx, "failed to write stream error", "error", werr)
			}
		}
	} else if !wasCanceled {
		tracing.SetStatus(span, nil)
	}

	s.finish(ctx, span, finishedRequest{
		requestID:     requestID,
		requested:     req.Model,
		endpoint:      selected,
		userInitiated: userInitiated,
		result:        result,
		err:           err,
		canceled:      wasCanceled,
		forwarded:     adapter.BytesForwarded(),
		start:         start,
	})
}

// selectEndpoint returns the endpoint serving requested, or the status and
// error to answer with.
func (s *Server) selectEndpoint(ctx context.Context, requested string) (endpoint.Endpoint, int, error) {
	endpoints, err := s.deps.Catalog.GetAllChatEndpoints(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list endpoints", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to list endpoints: %w", err)
	}

	eligible := selection.Eligible(endpoints)
	if len(eligible) == 0 {
		s.deps.Metrics.RecordSelection(metrics.SelectionNoEligible)
		s.logger.ErrorContext(ctx, "no endpoints support the messages api", "catalog_size", len(endpoints))
		return nil, http.StatusNotFound, ErrNoEligibleEndpoints
	}

	selected := s.Selector().Select(eligible, requested)
	if selected == nil {
		s.deps.Metrics.RecordSelection(metrics.SelectionNoMatch)
		s.logger.WarnContext(ctx, "no endpoint matches requested model",
			"requested_model", requested,
			"eligible", len(eligible),
		)
		return nil, http.StatusNotFound, ErrNoMatchingEndpoint
	}

	s.deps.Metrics.RecordSelection(metrics.SelectionMatched)
	s.logger.DebugContext(ctx, "selected endpoint",
		"requested_model", requested,
		"model", selected.Model(),
		"endpoint", selected.Name(),
	)
	return selected, http.StatusOK, nil
}

// buildTranscript reconstructs the conversation for the endpoint's native
// body and the debug log. Failures are logged and yield nil.
func (s *Server) buildTranscript(ctx context.Context, body []byte) (msgs []endpoint.ChatMessage) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.WarnContext(ctx, "transcript reconstruction panicked", "panic", p)
			msgs = nil
		}
	}()

	msgs, err := transcript.Build(body)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to reconstruct transcript", "error", err)
		return nil
	}
	sum := transcript.Summarize(msgs)
	s.logger.DebugContext(ctx, "request transcript",
		"messages", sum.Messages,
		"characters", sum.Characters,
		"roles", sum.Roles,
	)
	return msgs
}

type finishedRequest struct {
	requestID     string
	requested     string
	endpoint      endpoint.Endpoint
	userInitiated bool
	result        *upstream.Result
	err           error
	canceled      bool
	forwarded     int64
	start         time.Time
}

// finish records metrics, span attributes, the ledger entry and the
// completion log line of a request that reached the upstream.
func (s *Server) finish(ctx context.Context, span trace.Span, f finishedRequest) {
	model := f.endpoint.Model()
	result := f.result
	if result == nil {
		result = &upstream.Result{}
	}

	outcome := "success"
	switch {
	case f.canceled:
		outcome = "canceled"
	case f.err != nil:
		outcome = metrics.StatusOutcome(result.StatusCode)
	}
	s.deps.Metrics.RecordUpstream(model, outcome, result.Attempts, result.Duration)

	var (
		usage  stream.Usage
		finish stream.FinishReason
		ids    stream.RequestIDs
	)
	for _, c := range result.Completions {
		usage.PromptTokens += c.Usage.PromptTokens
		usage.CompletionTokens += c.Usage.CompletionTokens
		usage.CachedTokens += c.Usage.CachedTokens
		usage.ReasoningTokens += c.Usage.ReasoningTokens
		finish = c.FinishReason
		ids = c.RequestIDs
		s.deps.Metrics.RecordCompletion(model, string(c.FinishReason))
	}
	s.deps.Metrics.RecordTokens(model, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens, usage.ReasoningTokens)

	tracing.SetUsageAttributes(span, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens, string(finish))
	span.SetAttributes(
		attribute.Int64(tracing.AttrBytesForwarded, f.forwarded),
		attribute.Int(tracing.AttrAttempts, result.Attempts),
	)
	if f.canceled {
		span.SetAttributes(attribute.Bool("lmserver.canceled", true))
	}

	status := result.StatusCode
	if f.err != nil && !f.canceled && status == 0 {
		status = http.StatusBadGateway
	}
	entry := &ledger.Entry{
		RequestID:        f.requestID,
		ClientRequestID:  ids.ClientRequestID,
		OriginRequestID:  ids.OriginRequestID,
		RequestedModel:   f.requested,
		Model:            model,
		Endpoint:         f.endpoint.Name(),
		UserInitiated:    f.userInitiated,
		Status:           status,
		FinishReason:     string(finish),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CachedTokens:     usage.CachedTokens,
		ReasoningTokens:  usage.ReasoningTokens,
		BytesForwarded:   f.forwarded,
		Attempts:         result.Attempts,
		Duration:         time.Since(f.start),
		Canceled:         f.canceled,
	}
	if f.err != nil && !f.canceled {
		entry.Error = f.err.Error()
	}
	if s.deps.Ledger != nil {
		s.deps.Ledger.Record(entry)
	}

	s.logger.InfoContext(ctx, "messages request finished",
		"requested_model", f.requested,
		"model", model,
		"finish_reason", string(finish),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"cached_tokens", usage.CachedTokens,
		"bytes_forwarded", f.forwarded,
		"attempts", result.Attempts,
		"canceled", f.canceled,
		"duration_ms", entry.Duration.Milliseconds(),
	)
}
