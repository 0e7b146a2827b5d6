// Package telemetry provides the OpenTelemetry tracing foundation for
// caravel. Tracing is disabled by default and enabled via environment
// variables.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	initOnce       sync.Once
	enabled        bool
)

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is the OTLP collector endpoint (e.g. localhost:4317).
	OTLPEndpoint string
	// Debug enables the stdout trace exporter.
	Debug bool
}

// DefaultConfig reads the telemetry configuration from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:    getEnvOrDefault("CARAVEL_SERVICE_NAME", "caravel"),
		ServiceVersion: getEnvOrDefault("CARAVEL_VERSION", "dev"),
		Environment:    getEnvOrDefault("CARAVEL_ENVIRONMENT", "development"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Debug:          os.Getenv("CARAVEL_TRACE_DEBUG") == "1",
	}
}

// Init initializes tracing. Call early in main(). If no OTLP endpoint is
// configured and debug output is off, tracing stays noop.
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		err = initTracer(cfg)
	})
	return err
}

func initTracer(cfg Config) error {
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		enabled = false
		return nil
	}

	enabled = true

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter

	if cfg.Debug {
		exporter, err = stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return err
		}
	} else if cfg.OTLPEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(), // TODO: Add TLS config option
		)

		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return err
		}
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(cfg.ServiceName)

	return nil
}

// Shutdown flushes and stops the tracer provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled reports whether tracing is active.
func IsEnabled() bool {
	return enabled
}

// Tracer returns the global tracer instance.
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("caravel")
	}
	return tracer
}

// StartSpan starts a new span with the given name.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// DeploySpan starts a span covering one deployment execution.
func DeploySpan(ctx context.Context, deploymentID, environment, strategy string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deploy.execute",
		trace.WithAttributes(
			attribute.String("deploy.id", deploymentID),
			attribute.String("deploy.environment", environment),
			attribute.String("deploy.strategy", strategy),
		),
	)
}

// CommandSpan starts a span for one command run against a target.
func CommandSpan(ctx context.Context, host, line string) (context.Context, trace.Span) {
	return StartSpan(ctx, "command.run",
		trace.WithAttributes(
			attribute.String("command.host", host),
			attribute.String("command.line", truncate(line, 100)),
		),
	)
}

// HealthCheckSpan starts a span for a health check loop.
func HealthCheckSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	return StartSpan(ctx, "health.check",
		trace.WithAttributes(
			attribute.String("health.url", url),
		),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
