package recurrence

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"

// telemetry wraps the tracer and counters used by the generator and mutator.
// It reads the global providers, which are no-ops until observability.Setup
// installs real ones.
type telemetry struct {
	tracer    trace.Tracer
	created   metric.Int64Counter
	mutated   metric.Int64Counter
	conflicts metric.Int64Counter
	partial   metric.Int64Counter
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}

	// Instrument creation only fails on invalid names; the returned
	// instrument is then a no-op, which is what we want.
	t.created, _ = meter.Int64Counter("recurrence.obligations.created",
		metric.WithDescription("Obligations persisted by series generation"),
		metric.WithUnit("{obligation}"))
	t.mutated, _ = meter.Int64Counter("recurrence.obligations.mutated",
		metric.WithDescription("Obligations updated or deleted by scoped series operations"),
		metric.WithUnit("{obligation}"))
	t.conflicts, _ = meter.Int64Counter("recurrence.settlement.conflicts",
		metric.WithDescription("Members skipped because they left pending between selection and write"),
		metric.WithUnit("{obligation}"))
	t.partial, _ = meter.Int64Counter("recurrence.series.partial",
		metric.WithDescription("Series generations that stopped after the anchor was written"),
		metric.WithUnit("{series}"))
	return t
}

func (t *telemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

func (t *telemetry) add(ctx context.Context, c metric.Int64Counter, n int, attrs ...attribute.KeyValue) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// end finishes span, recording err when present.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
