package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"giftboard-runtime/internal/config"
)

// SetupTracing configures the global tracer provider and returns the tracer
// used around bootstrap phases, plus a shutdown function. When tracing is
// disabled both are inert. Tracing failures must never fail startup; callers
// log the error and continue.
func SetupTracing(cfg config.Tracing) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.Enabled {
		return nil, func(context.Context) error { return nil }, nil
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return provider.Tracer(cfg.ServiceName), provider.Shutdown, nil
}
