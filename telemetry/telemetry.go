// Package telemetry abstracts the logging, metrics, and tracing surface
// accepted by the Mongo storage backends, the Pulse stream backend, and the
// queue backends (the in-memory storage and stream backends take none), so
// library code never
// depends directly on a concrete observability provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging. Implementations typically delegate to
// Clue but the interface stays small so callers can supply lightweight
// stubs in tests.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for backend instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so backend code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Pinger reports backend liveness. Every driver-backed storage/stream/queue
// implementation in this module exposes one so operators can wire a health
// check without depending on that backend's concrete type.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FinishSpan closes out a span started around a backend operation: on error
// it records the error on the span, marks the span status, logs it, and
// increments an error counter tagged by op; on success it marks the span ok
// and increments a success counter. Callers defer it right after Tracer.Start:
//
//	ctx, span := tracer.Start(ctx, "run.create")
//	defer func() { telemetry.FinishSpan(ctx, logger, metrics, span, "run.create", err) }()
func FinishSpan(ctx context.Context, logger Logger, metrics Metrics, span Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		logger.Error(ctx, op+" failed", "err", err)
		metrics.IncCounter(op+".error", 1)
	} else {
		span.SetStatus(codes.Ok, "ok")
		metrics.IncCounter(op+".success", 1)
	}
	span.End()
}
