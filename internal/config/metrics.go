package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordConfigLoad counts config loads by environment, outcome and failure class.
func recordConfigLoad(ctx context.Context, env, outcome, failure string) {
	loadMetricsOnce.Do(func() {
		counter, err := otel.Meter("icc-admin-auth").Int64Counter("config.load.events")
		if err == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_env", normalizeAppEnv(env)),
		attribute.String("outcome", outcome),
		attribute.String("failure", failure),
	))
}

var appEnvAliases = map[string]string{
	"prod":  EnvProduction,
	"dev":   EnvDevelopment,
	"local": EnvDevelopment,
}

// normalizeAppEnv lowercases APP_ENV and folds short aliases so IsProduction
// cannot be dodged by writing "prod".
func normalizeAppEnv(env string) string {
	v := strings.TrimSpace(strings.ToLower(env))
	if v == "" {
		return "unknown"
	}
	if full, ok := appEnvAliases[v]; ok {
		return full
	}
	return v
}

func classifyLoadFailure(err error) string {
	if err == nil {
		return "none"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "in production"):
		return "production_guard"
	case strings.Contains(msg, "_SECRET"):
		return "secret"
	case strings.HasPrefix(msg, "validate config:"):
		return "validation"
	case strings.HasPrefix(msg, "parse config:"):
		return "parse"
	default:
		return "load"
	}
}
