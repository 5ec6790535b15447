package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
)

// InitTracing installs the global tracer provider every span in the
// process flows through. With an OTLP endpoint configured, spans export
// over OTLP/gRPC in batches; without one they pretty-print to stdout,
// which keeps local development observable with no collector running.
// The returned shutdown function flushes pending spans and must be
// called before process exit.
func InitTracing(ctx context.Context, serviceName, otlpEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if otlpEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(serviceName)),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Request metrics emitted alongside the per-request span, named after
// the unified request.* contract so OTel-side dashboards line up with
// the Prometheus series the health subsystem already exposes.
var (
	meter            = otel.Meter("hybrid-coordinator")
	requestTotal     metric.Int64Counter
	requestDuration  metric.Float64Histogram
)

func init() {
	requestTotal, _ = meter.Int64Counter("request.total",
		metric.WithDescription("Requests handled, by route and status"))
	requestDuration, _ = meter.Float64Histogram("request.duration_ms",
		metric.WithDescription("Request latency in milliseconds"),
		metric.WithUnit("ms"))
}

// RecordRequest records one handled HTTP request.
func RecordRequest(ctx context.Context, method, path string, status int, durationMS float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.Int("http.status_code", status),
	)
	requestTotal.Add(ctx, 1, attrs)
	requestDuration.Record(ctx, durationMS, attrs)
}
