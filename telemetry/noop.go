package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoopLogger discards every log call. It is the default Logger for backends
// constructed without an explicit one.
type NoopLogger struct{}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (*NoopLogger) Debug(context.Context, string, ...any) {}
func (*NoopLogger) Info(context.Context, string, ...any)  {}
func (*NoopLogger) Warn(context.Context, string, ...any)  {}
func (*NoopLogger) Error(context.Context, string, ...any) {}

// NoopMetrics discards every metric recorded against it.
type NoopMetrics struct{}

// NewNoopMetrics returns a Metrics that discards all recordings.
func NewNoopMetrics() *NoopMetrics { return &NoopMetrics{} }

func (*NoopMetrics) IncCounter(string, float64, ...string)         {}
func (*NoopMetrics) RecordTimer(string, time.Duration, ...string)  {}
func (*NoopMetrics) RecordGauge(string, float64, ...string)        {}

// NoopTracer produces spans that record nothing.
type NoopTracer struct{}

// NewNoopTracer returns a Tracer whose spans are no-ops.
func NewNoopTracer() *NoopTracer { return &NoopTracer{} }

func (*NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(...trace.SpanEndOption)                {}
func (noopSpan) AddEvent(string, ...any)                    {}
func (noopSpan) SetStatus(codes.Code, string)               {}
func (noopSpan) RecordError(error, ...trace.EventOption)    {}
