package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"notifyd/internal/config"
	logx "notifyd/pkg/logx"
)

const DefaultServiceName = "notifyd"

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// SetupTracing installs a global OTLP/HTTP tracer provider. When tracing is
// disabled the global no-op provider stays in place and the returned
// shutdown does nothing.
func SetupTracing(ctx context.Context, cfg config.TracingConfig, log logx.Logger) (ShutdownFunc, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if !cfg.Enabled {
		log.Debug("tracing disabled")
		return noopShutdown, nil
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noopShutdown, fmt.Errorf("tracing: endpoint required")
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", name)))
	if err != nil {
		return noopShutdown, fmt.Errorf("tracing: create resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return noopShutdown, fmt.Errorf("tracing: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.SampleRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info("tracing enabled",
		logx.String("endpoint", endpoint),
		logx.String("service", name),
		logx.Any("sample_rate", sampleRate(cfg.SampleRate)),
	)
	return tp.Shutdown, nil
}

// sampleRate treats an unset rate as "sample everything".
func sampleRate(r float64) float64 {
	if r <= 0 {
		return 1
	}
	return min(r, 1)
}
