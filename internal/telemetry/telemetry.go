package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/config"
)

const exporterSetupTimeout = 10 * time.Second

// Provider owns the process-wide tracer provider. Without an OTLP endpoint
// configured it stays in noop mode, so the HTTP layer can record spans
// unconditionally.
type Provider struct {
	service string
	tp      *sdktrace.TracerProvider
}

// Tracer returns a tracer scoped to the service name.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer("sds-shopify")
	}
	return p.tp.Tracer(p.service)
}

// Shutdown flushes pending spans. Safe to call on a noop provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// New installs OpenTelemetry tracing for the process. The OTLP endpoint
// comes from OTEL_EXPORTER_OTLP_ENDPOINT; when it is unset only the
// propagator is registered and spans are dropped.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.TelemetryEndpoint == "" {
		return &Provider{service: cfg.ServiceName}, nil
	}

	clientOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.TelemetryEndpoint),
	}
	if cfg.TelemetryInsecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}

	setupCtx, cancel := context.WithTimeout(ctx, exporterSetupTimeout)
	defer cancel()

	exp, err := otlptracehttp.New(setupCtx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(setupCtx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)

	if logger != nil {
		logger.Info("telemetry enabled",
			zap.String("endpoint", cfg.TelemetryEndpoint),
			zap.String("service", cfg.ServiceName),
		)
	}

	return &Provider{service: cfg.ServiceName, tp: tp}, nil
}
