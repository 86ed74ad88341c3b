//go:build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/sandeepkv93/icc-admin-auth/internal/app"
	"github.com/sandeepkv93/icc-admin-auth/internal/config"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, error) {
	wire.Build(StorageSet, ServiceSet, HTTPSet, provideApp)
	return nil, nil
}
