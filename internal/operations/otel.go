package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/RyanSy/PortfolioAnalysis/internal/infrastructure"
)

// OperationTracer provides OpenTelemetry instrumentation for runs and steps
type OperationTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewOperationTracer creates a tracer over the process telemetry. A nil
// telemetry yields a tracer that records nothing.
func NewOperationTracer(t *infrastructure.Telemetry) *OperationTracer {
	if t == nil {
		return &OperationTracer{tracer: tracenoop.NewTracerProvider().Tracer(infrastructure.MeterName)}
	}
	return &OperationTracer{tracer: t.Tracer, metrics: t.Metrics}
}

// TraceOperationExecution creates a span for the entire run
func (pt *OperationTracer) TraceOperationExecution(ctx context.Context, req OperationRequest) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", req.ID),
			attribute.String("run.horizon", req.Horizon.Label()),
			attribute.Int("run.sources", len(req.Sources)),
		),
	)
}

// TraceStageExecution creates a span for one step attempt
func (pt *OperationTracer) TraceStageExecution(ctx context.Context, operationID, stageID string, attempt int) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, fmt.Sprintf("pipeline.step.%s", stageID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", operationID),
			attribute.String("step.id", stageID),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// RecordStageCompletion ends a step span and records its duration
func (pt *OperationTracer) RecordStageCompletion(ctx context.Context, span trace.Span, stageID string, duration time.Duration, err error) {
	span.SetAttributes(attribute.Float64("step.duration_seconds", duration.Seconds()))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	pt.metrics.RecordStep(ctx, stageID, duration, err)
}

// RecordOperationCompletion ends the run span
func (pt *OperationTracer) RecordOperationCompletion(ctx context.Context, span trace.Span, status OperationStatusValue, err error) {
	span.SetAttributes(attribute.String("run.status", string(status)))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Metrics returns the pipeline instruments; nil when telemetry is absent
func (pt *OperationTracer) Metrics() *infrastructure.PipelineMetrics {
	return pt.metrics
}
