package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/icc-admin-auth/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime holds the telemetry providers installed for the process. Logs are
// shut down last so that shutdown errors from the other providers still reach
// the collector.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*Runtime, error) {
	rt := &Runtime{LoggerProvider: lp}
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("metrics: %w", err), rt.Shutdown(ctx))
	}
	rt.MeterProvider = mp
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("tracing: %w", err), rt.Shutdown(ctx))
	}
	rt.TracerProvider = tp
	logger.Debug("observability runtime ready",
		"metrics_exporter", cfg.OTELMetricsEnabled,
		"tracing_exporter", cfg.OTELTracingEnabled,
		"log_bridge", lp != nil,
	)
	return rt, nil
}

func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	type step struct {
		name string
		fn   func(context.Context) error
	}
	var steps []step
	if r.TracerProvider != nil {
		steps = append(steps, step{"tracer provider", r.TracerProvider.Shutdown})
	}
	if r.MeterProvider != nil {
		steps = append(steps, step{"meter provider", r.MeterProvider.Shutdown})
	}
	if r.LoggerProvider != nil {
		steps = append(steps, step{"logger provider", r.LoggerProvider.Shutdown})
	}
	var errs []error
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
