// Package observability provides OpenTelemetry tracing for dispatcher runs,
// partitions and federated plans.
package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/quarry"

// Attribute keys.
const (
	AttrRunID       = attribute.Key("quarry.run_id")
	AttrSource      = attribute.Key("quarry.source")
	AttrDestination = attribute.Key("quarry.destination")
	AttrPartition   = attribute.Key("quarry.partition")
	AttrPass        = attribute.Key("quarry.pass")
	AttrRows        = attribute.Key("quarry.rows")
	AttrPartitions  = attribute.Key("quarry.partitions")
	AttrPlanTarget  = attribute.Key("quarry.plan.target")
)

// Tracer returns the quarry tracer from the global provider. Until Init is
// called this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartRun starts the span covering one dispatcher run.
func StartRun(ctx context.Context, runID, source, destination string, partitions int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "quarry.run", trace.WithAttributes(
		AttrRunID.String(runID),
		AttrSource.String(source),
		AttrDestination.String(destination),
		AttrPartitions.Int(partitions),
	))
}

// StartPartition starts the span covering one partition of one pass.
func StartPartition(ctx context.Context, pass string, index int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "quarry.partition", trace.WithAttributes(
		AttrPass.String(pass),
		AttrPartition.Int(index),
	))
}

// StartPlan starts the span covering one federated plan.
func StartPlan(ctx context.Context, target string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "quarry.federated.plan", trace.WithAttributes(AttrPlanTarget.String(target)))
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHeaders propagates the trace context of ctx into outgoing headers.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
