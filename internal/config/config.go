// Package config loads service configuration from the environment and an optional .env file using Viper.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	AppEnv   string `mapstructure:"APP_ENV"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DBDriver string `mapstructure:"DB_DRIVER"`
	DBURL    string `mapstructure:"DATABASE_URL"`

	// JWTSecret signs access tokens, SessionSecret signs refresh tokens.
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	SessionSecret string `mapstructure:"SESSION_SECRET"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	BcryptCost    int    `mapstructure:"BCRYPT_COST"`

	KVUseExternal bool   `mapstructure:"KV_USE_EXTERNAL"`
	KVURL         string `mapstructure:"KV_URL"`
	KVToken       string `mapstructure:"KV_TOKEN"`

	AdminIPWhitelist string `mapstructure:"ADMIN_IP_WHITELIST"`
	CookieDomain     string `mapstructure:"COOKIE_DOMAIN"`
	CORSOrigins      string `mapstructure:"CORS_ORIGINS"`

	// AuthVerifiedCookieBypass lets a caller holding a valid, 2FA-verified access
	// cookie skip OTP issuance and pass verification without a stored code.
	AuthVerifiedCookieBypass bool `mapstructure:"AUTH_VERIFIED_COOKIE_BYPASS"`
	MaxConcurrentSessions    int  `mapstructure:"AUTH_MAX_CONCURRENT_SESSIONS"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	AuditKafkaBrokers string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	AuditKafkaTopic   string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
	OTELTraceSamplingRatio    float64       `mapstructure:"OTEL_TRACE_SAMPLING_RATIO"`

	ReadHeaderTimeout time.Duration `mapstructure:"HTTP_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"APP_ENV":                      EnvDevelopment,
	"HTTP_ADDR":                    ":8080",
	"LOG_LEVEL":                    "info",
	"DB_DRIVER":                    "postgres",
	"DATABASE_URL":                 "",
	"JWT_SECRET":                   "",
	"SESSION_SECRET":               "",
	"JWT_ISSUER":                   "icc-admin",
	"BCRYPT_COST":                  12,
	"KV_USE_EXTERNAL":              false,
	"KV_URL":                       "",
	"KV_TOKEN":                     "",
	"ADMIN_IP_WHITELIST":           "",
	"COOKIE_DOMAIN":                "",
	"CORS_ORIGINS":                 "",
	"AUTH_VERIFIED_COOKIE_BYPASS":  false,
	"AUTH_MAX_CONCURRENT_SESSIONS": 5,
	"SMTP_HOST":                    "",
	"SMTP_PORT":                    587,
	"SMTP_USERNAME":                "",
	"SMTP_PASSWORD":                "",
	"SMTP_FROM":                    "",
	"AUDIT_KAFKA_BROKERS":          "",
	"AUDIT_KAFKA_TOPIC":            "icc-admin-audit",
	"OTEL_SERVICE_NAME":            "icc-admin-auth",
	"OTEL_ENVIRONMENT":             "",
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":  true,
	"OTEL_METRICS_ENABLED":         false,
	"OTEL_TRACING_ENABLED":         false,
	"OTEL_LOGS_ENABLED":            false,
	"OTEL_METRICS_EXPORT_INTERVAL": "15s",
	"OTEL_TRACE_SAMPLING_RATIO":    1.0,
	"HTTP_READ_HEADER_TIMEOUT":     "5s",
	"SHUTDOWN_TIMEOUT":             "15s",
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads envFile when present, then the environment. Env vars win over the file.
// A missing envFile is skipped; an unreadable or malformed one is an error.
func LoadFrom(envFile string) (*Config, error) {
	return loadRecorded(envFile, false)
}

// LoadRequired is LoadFrom for a file the operator named explicitly, so a
// missing file is an error too.
func LoadRequired(envFile string) (*Config, error) {
	return loadRecorded(envFile, true)
}

func loadRecorded(envFile string, required bool) (*Config, error) {
	cfg, err := load(envFile, required)
	profile := EnvDevelopment
	if cfg != nil {
		profile = cfg.AppEnv
	}
	if err != nil {
		recordConfigLoad(context.Background(), profile, "failure", classifyLoadFailure(err))
		return nil, err
	}
	recordConfigLoad(context.Background(), profile, "success", "none")
	return cfg, nil
}

func load(envFile string, required bool) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && (required || !isMissingFile(err)) {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.AppEnv = normalizeAppEnv(cfg.AppEnv)
	if cfg.OTELEnvironment == "" {
		cfg.OTELEnvironment = cfg.AppEnv
	}
	if err := cfg.Validate(); err != nil {
		return &cfg, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters"))
	}
	if c.JWTSecret != "" && c.JWTSecret == c.SessionSecret {
		errs = append(errs, errors.New("JWT_SECRET and SESSION_SECRET must differ"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver))
	}
	if c.MaxConcurrentSessions < 1 {
		errs = append(errs, errors.New("AUTH_MAX_CONCURRENT_SESSIONS must be positive"))
	}
	for _, entry := range c.AdminIPWhitelistList() {
		if net.ParseIP(entry) == nil {
			errs = append(errs, fmt.Errorf("ADMIN_IP_WHITELIST entry %q is not an IP", entry))
		}
	}
	if c.IsProduction() && c.AuthVerifiedCookieBypass {
		errs = append(errs, errors.New("AUTH_VERIFIED_COOKIE_BYPASS must not be enabled in production"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == EnvProduction
}

// ExternalStoreConfigured reports whether the durable key-value store can be used.
func (c *Config) ExternalStoreConfigured() bool {
	return c.KVUseExternal && strings.TrimSpace(c.KVURL) != "" && strings.TrimSpace(c.KVToken) != ""
}

func (c *Config) AdminIPWhitelistList() []string {
	return splitCSV(c.AdminIPWhitelist)
}

func (c *Config) CORSOriginList() []string {
	return splitCSV(c.CORSOrigins)
}

func (c *Config) AuditKafkaBrokerList() []string {
	return splitCSV(c.AuditKafkaBrokers)
}

func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
