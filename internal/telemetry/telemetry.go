package telemetry

import (
	"context"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	CyclesStarted   metric.Int64Counter
	CyclesCompleted metric.Int64Counter
	CyclesDegraded  metric.Int64Counter
	TasksDispatched metric.Int64Counter
	TasksSettled    metric.Int64Counter
	ActiveCycles    metric.Int64UpDownCounter
	DispatchLatency metric.Float64Histogram
	PhaseLatency    metric.Float64Histogram
)

// InitTelemetry wires up OTLP tracing and the custom meters, returning a
// shutdown func that flushes pending spans. The deployment environment is
// taken from VENTURE_ENV (default "development").
func InitTelemetry(ctx context.Context, serviceName, version, otelEndpoint string) (func(context.Context) error, error) {
	environment := os.Getenv("VENTURE_ENV")
	if environment == "" {
		environment = "development"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)
	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s (environment %s)", otelEndpoint, environment)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	CyclesStarted, err = Meter.Int64Counter(
		"venture.cycles.started",
		metric.WithDescription("Number of orchestration cycles started"),
	)
	if err != nil {
		return err
	}

	CyclesCompleted, err = Meter.Int64Counter(
		"venture.cycles.completed",
		metric.WithDescription("Number of orchestration cycles completed"),
	)
	if err != nil {
		return err
	}

	CyclesDegraded, err = Meter.Int64Counter(
		"venture.cycles.degraded",
		metric.WithDescription("Number of cycles that finished degraded"),
	)
	if err != nil {
		return err
	}

	TasksDispatched, err = Meter.Int64Counter(
		"venture.tasks.dispatched",
		metric.WithDescription("Number of channel tasks dispatched"),
	)
	if err != nil {
		return err
	}

	TasksSettled, err = Meter.Int64Counter(
		"venture.tasks.settled",
		metric.WithDescription("Number of task outcomes settled"),
	)
	if err != nil {
		return err
	}

	ActiveCycles, err = Meter.Int64UpDownCounter(
		"venture.cycles.active",
		metric.WithDescription("Number of cycles currently running"),
	)
	if err != nil {
		return err
	}

	DispatchLatency, err = Meter.Float64Histogram(
		"venture.dispatch.latency",
		metric.WithDescription("Channel dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	PhaseLatency, err = Meter.Float64Histogram(
		"venture.phase.latency",
		metric.WithDescription("Cycle phase duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
