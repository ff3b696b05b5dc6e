package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts"
)

// MeterName is the instrumentation scope of every pipeline instrument
const MeterName = "github.com/RyanSy/PortfolioAnalysis"

// Telemetry holds the OpenTelemetry providers of one process. Metrics are
// exposed through a dedicated Prometheus registry and pushed at the end of a run.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Registry       *prometheus.Registry
	Metrics        *PipelineMetrics

	cfg    config.TelemetryConfig
	logger *slog.Logger
}

// InitializeTelemetry initializes tracing and metrics. When telemetry is
// disabled every instrument is a no-op.
func InitializeTelemetry(cfg config.TelemetryConfig, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()
	t := &Telemetry{cfg: cfg, logger: logger}

	if !cfg.Enabled {
		t.Tracer = tracenoop.NewTracerProvider().Tracer(MeterName)
		t.Meter = noop.NewMeterProvider().Meter(MeterName)
		metrics, err := NewPipelineMetrics(t.Meter)
		if err != nil {
			return nil, err
		}
		t.Metrics = metrics
		return t, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(contracts.Version),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	if err := t.initializeTracing(res); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := t.initializeMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	logger.InfoContext(ctx, "telemetry_initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.Bool("push_enabled", cfg.PushgatewayURL != ""))
	return t, nil
}

func (t *Telemetry) initializeTracing(res *resource.Resource) error {
	switch t.cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		t.TracerProvider = tp
		t.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(contracts.Version))
		otel.SetTracerProvider(tp)
	case "none", "":
		t.Tracer = tracenoop.NewTracerProvider().Tracer(MeterName)
	default:
		return fmt.Errorf("unsupported trace exporter: %s", t.cfg.TraceExporter)
	}
	return nil
}

func (t *Telemetry) initializeMetrics(res *resource.Resource) error {
	t.Registry = prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(t.Registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	t.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.Meter = t.MeterProvider.Meter(MeterName, metric.WithInstrumentationVersion(contracts.Version))

	metrics, err := NewPipelineMetrics(t.Meter)
	if err != nil {
		return err
	}
	t.Metrics = metrics
	return nil
}

// Push sends the registry to the configured Pushgateway. Without a URL it does nothing.
func (t *Telemetry) Push(ctx context.Context, runID string) error {
	if t == nil || t.Registry == nil || t.cfg.PushgatewayURL == "" {
		return nil
	}
	err := push.New(t.cfg.PushgatewayURL, t.cfg.PushJob).
		Gatherer(t.Registry).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", t.cfg.PushgatewayURL, err)
	}
	t.logger.InfoContext(ctx, "metrics_pushed", slog.String("url", t.cfg.PushgatewayURL))
	return nil
}

// Shutdown flushes and stops the providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.TracerProvider != nil {
		if err := t.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if t.MeterProvider != nil {
		if err := t.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

// PipelineMetrics holds the run instruments
type PipelineMetrics struct {
	RowsValidated   metric.Int64Counter
	RowsQuarantined metric.Int64Counter
	DerivedRows     metric.Int64Counter
	StepDuration    metric.Float64Histogram
	StepFailures    metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	rowsValidated, err := meter.Int64Counter(
		"pipeline_rows_validated",
		metric.WithDescription("Input rows that passed validation"),
	)
	if err != nil {
		return nil, err
	}

	rowsQuarantined, err := meter.Int64Counter(
		"pipeline_rows_quarantined",
		metric.WithDescription("Input rows excluded from the warehouse"),
	)
	if err != nil {
		return nil, err
	}

	derivedRows, err := meter.Int64Counter(
		"pipeline_derived_rows",
		metric.WithDescription("Rows written to each derived table"),
	)
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram(
		"pipeline_step_duration",
		metric.WithDescription("Pipeline step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stepFailures, err := meter.Int64Counter(
		"pipeline_step_failures",
		metric.WithDescription("Failed pipeline step executions"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		RowsValidated:   rowsValidated,
		RowsQuarantined: rowsQuarantined,
		DerivedRows:     derivedRows,
		StepDuration:    stepDuration,
		StepFailures:    stepFailures,
	}, nil
}

// RecordStep records one step execution
func (m *PipelineMetrics) RecordStep(ctx context.Context, stepID string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
		m.StepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", stepID)))
	}
	m.StepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("step", stepID),
		attribute.String("status", status),
	))
}

// RecordValidated adds validated rows for a kind
func (m *PipelineMetrics) RecordValidated(ctx context.Context, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsValidated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordQuarantined adds quarantined rows for a kind and reason
func (m *PipelineMetrics) RecordQuarantined(ctx context.Context, kind, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsQuarantined.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}

// RecordDerived adds rows written to a derived table
func (m *PipelineMetrics) RecordDerived(ctx context.Context, table string, n int) {
	if m == nil {
		return
	}
	m.DerivedRows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("table", table)))
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
