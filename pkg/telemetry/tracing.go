// Package telemetry wires the engine's execution-context spans (see
// pkg/agent/exec) to a real OpenTelemetry pipeline: a batching span
// processor exporting over OTLP/gRPC, sampled per configuration. Adapted
// from the observability tracer built for another LLM-agent system in
// this codebase's lineage, trimmed to the single responsibility this
// engine needs: stand up the global TracerProvider at process start and
// hand back a shutdown func.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/codeready-toolchain/secaudit/pkg/config"
	"github.com/codeready-toolchain/secaudit/pkg/version"
)

// Shutdown flushes and stops the tracer provider installed by Init. Safe
// to call on the no-op provider Init returns when tracing is disabled.
type Shutdown func(context.Context) error

var noopShutdown Shutdown = func(context.Context) error { return nil }

// Init installs a global TracerProvider built from cfg. With an empty
// Endpoint, tracing stays disabled: every pkg/agent/exec.StartSpan call
// still runs against the no-op provider, so callers never need to check
// whether telemetry is configured.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return noopShutdown, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("starting otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(version.AppName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRatio)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}
