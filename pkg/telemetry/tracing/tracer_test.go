package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/lmserver/pkg/config"
)

func newTestTracer(t *testing.T, sampler string) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{
		Enabled:     true,
		Sampler:     sampler,
		SampleRatio: 1.0,
		ServiceName: "lmserver-test",
	}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("Enabled() = true, want false")
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Errorf("TraceID() = %q, want empty for noop spans", TraceID(ctx))
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, "test"); err == nil {
		t.Error("New(nil) error = nil, want error")
	}
	_, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: "sometimes"}, "test", tracetest.NewInMemoryExporter())
	if err == nil {
		t.Error("NewWithExporter() with unknown sampler error = nil, want error")
	}
}

func TestTracer_Spans(t *testing.T) {
	tracer, exporter := newTestTracer(t, SamplerAlways)

	opts := NewAttributeBuilder().
		WithRequest("req-1", true).
		WithString(AttrEndpoint, "").
		Build()
	ctx, parent := tracer.Start(context.Background(), "messages", opts)
	if TraceID(ctx) == "" {
		t.Fatal("TraceID() is empty inside a sampled span")
	}

	_, child := tracer.Start(ctx, "upstream.fetch")
	SetSelectionAttributes(child, "claude-sonnet-4-20250514", "claude-sonnet-4", "sonnet")
	SetUsageAttributes(child, 120, 30, 100, "stop")
	SetError(child, errors.New("boom"))
	child.End()

	SetStatus(parent, nil)
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}

	fetch, messages := spans[0], spans[1]
	if fetch.Name != "upstream.fetch" || messages.Name != "messages" {
		t.Fatalf("span names = %q, %q", fetch.Name, messages.Name)
	}
	if fetch.Parent.SpanID() != messages.SpanContext.SpanID() {
		t.Error("upstream.fetch is not a child of messages")
	}
	if fetch.Status.Code != codes.Error {
		t.Errorf("fetch status = %v, want Error", fetch.Status.Code)
	}
	if messages.Status.Code != codes.Ok {
		t.Errorf("messages status = %v, want Ok", messages.Status.Code)
	}

	want := map[attribute.Key]attribute.Value{
		AttrModel:        attribute.StringValue("claude-sonnet-4"),
		AttrTokensPrompt: attribute.Int64Value(120),
		AttrFinishReason: attribute.StringValue("stop"),
	}
	for _, kv := range fetch.Attributes {
		if v, ok := want[kv.Key]; ok {
			if kv.Value != v {
				t.Errorf("%s = %v, want %v", kv.Key, kv.Value.Emit(), v.Emit())
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes: %v", want)
	}

	for _, kv := range messages.Attributes {
		if kv.Key == AttrEndpoint {
			t.Error("empty WithString value should not be recorded")
		}
	}
}

func TestTracer_NeverSampler(t *testing.T) {
	tracer, exporter := newTestTracer(t, SamplerNever)

	_, span := tracer.Start(context.Background(), "messages")
	span.End()

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("exported %d spans, want 0", n)
	}
}

func TestPropagation_RoundTrip(t *testing.T) {
	tracer, _ := newTestTracer(t, SamplerAlways)

	ctx, span := tracer.Start(context.Background(), "upstream.fetch")
	defer span.End()

	headers := http.Header{}
	Inject(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Fatal("Inject() did not set traceparent")
	}

	extracted := Extract(context.Background(), headers)
	if got := SpanContext(extracted).TraceID().String(); got != TraceID(ctx) {
		t.Errorf("extracted trace id = %s, want %s", got, TraceID(ctx))
	}
}

func TestExtract_NoHeader(t *testing.T) {
	ctx := Extract(context.Background(), http.Header{})
	if SpanContext(ctx).IsValid() {
		t.Error("Extract() produced a valid span context from empty headers")
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.5, false},
		{SamplerRatio, 1.5, true},
		{"", 0, false},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			s, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Error("createSampler() returned nil sampler")
			}
		})
	}
}
