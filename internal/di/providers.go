package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"gorm.io/gorm"

	"github.com/sandeepkv93/icc-admin-auth/internal/app"
	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/config"
	"github.com/sandeepkv93/icc-admin-auth/internal/health"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/handler"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/router"
	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/mailer"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

var StorageSet = wire.NewSet(
	provideStore,
	provideDB,
	repository.NewAdminUserRepository,
)

var ServiceSet = wire.NewSet(
	provideJWTManager,
	service.NewTokenService,
	provideSessionService,
	provideRateLimiters,
	provideHasher,
	provideMailer,
	provideKafkaSink,
	provideAuditSink,
	provideLoginOptions,
	service.NewLoginService,
	service.NewAccountService,
	wire.Bind(new(service.LoginServiceInterface), new(*service.LoginService)),
	wire.Bind(new(service.SessionServiceInterface), new(*service.SessionService)),
)

var HTTPSet = wire.NewSet(
	provideCookiePolicy,
	handler.NewAuthHandler,
	handler.NewSessionHandler,
	handler.NewUserHandler,
	handler.NewRateLimitHandler,
	provideReadiness,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

func provideStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kvstore.Store, error) {
	return kvstore.New(ctx, cfg, logger)
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	return repository.OpenDB(cfg, logger)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTSecret, cfg.SessionSecret)
}

func provideSessionService(store kvstore.Store, tokens *service.TokenService, cfg *config.Config) *service.SessionService {
	return service.NewSessionService(store, tokens, cfg.MaxConcurrentSessions)
}

func provideRateLimiters(store kvstore.Store, cfg *config.Config) *service.RateLimiters {
	return service.NewRateLimiters(store, service.NewIPWhitelist(cfg.AdminIPWhitelistList()))
}

func provideHasher(cfg *config.Config) *security.Hasher {
	return security.NewHasher(cfg.BcryptCost)
}

func provideMailer(cfg *config.Config, logger *slog.Logger) mailer.Sender {
	if !cfg.SMTPConfigured() {
		return mailer.NewLogSender(logger)
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func provideKafkaSink(cfg *config.Config, logger *slog.Logger) *audit.KafkaSink {
	return audit.NewKafkaSink(cfg.AuditKafkaBrokerList(), cfg.AuditKafkaTopic, logger)
}

func provideAuditSink(logger *slog.Logger, kafka *audit.KafkaSink) audit.Sink {
	if kafka == nil {
		return audit.NewLogSink(logger)
	}
	return audit.Multi{audit.NewLogSink(logger), kafka}
}

func provideLoginOptions(cfg *config.Config) service.LoginOptions {
	return service.LoginOptions{VerifiedCookieBypass: cfg.AuthVerifiedCookieBypass}
}

func provideCookiePolicy(cfg *config.Config) security.CookiePolicy {
	return security.CookiePolicy{Domain: cfg.CookieDomain, Production: cfg.IsProduction()}
}

func provideReadiness(store kvstore.Store, users repository.AdminUserRepository) *health.ProbeRunner {
	return health.NewProbeRunner(2*time.Second, 5*time.Second,
		health.CheckFunc{Name: "database", Ping: users.Ping},
		health.CheckFunc{Name: "kv_store", Ping: store.Ping},
	)
}

func provideRouterDependencies(
	cfg *config.Config,
	auth *handler.AuthHandler,
	sessionHandler *handler.SessionHandler,
	users *handler.UserHandler,
	rateLimits *handler.RateLimitHandler,
	sessions service.SessionServiceInterface,
	limiters *service.RateLimiters,
	cookies security.CookiePolicy,
	readiness *health.ProbeRunner,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:      auth,
		SessionHandler:   sessionHandler,
		UserHandler:      users,
		RateLimitHandler: rateLimits,
		Sessions:         sessions,
		RateLimiters:     limiters,
		Cookies:          cookies,
		CORSOrigins:      cfg.CORSOriginList(),
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func provideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, store kvstore.Store, kafka *audit.KafkaSink) *app.App {
	return app.New(cfg, logger, server, runtime, kafka, store)
}
