package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// tracerName is the instrumentation scope name for batch tracing.
const tracerName = "github.com/whoisdsmith/SmartFileOrganizer"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: batch.job.id, batch.job.task,
// batch.job.priority, batch.job.attempt, batch.job.group_id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		attrs := []attribute.KeyValue{
			attribute.String("batch.job.id", j.ID.String()),
			attribute.String("batch.job.task", j.Task),
			attribute.String("batch.job.priority", j.Priority.String()),
			attribute.Int("batch.job.attempt", j.Attempt),
		}
		if !j.GroupID.IsNil() {
			attrs = append(attrs, attribute.String("batch.job.group_id", j.GroupID.String()))
		}
		ctx, span := tracer.Start(ctx, "batch.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
