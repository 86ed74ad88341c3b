package repository

import (
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/icc-admin-auth/internal/config"
	"github.com/sandeepkv93/icc-admin-auth/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB connects to the configured database and migrates the admin_users table.
func OpenDB(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dsn := cfg.DBURL
		if dsn == "" {
			dsn = "file:icc-admin.db?_busy_timeout=5000"
		}
		dialector = sqlite.Open(dsn)
	default:
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("open database: DATABASE_URL is required for %s", cfg.DBDriver)
		}
		dialector = postgres.Open(cfg.DBURL)
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if !cfg.IsProduction() {
		gormCfg.Logger = logger.Default.LogMode(logger.Warn)
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.AdminUser{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database ready", "driver", cfg.DBDriver)
	return db, nil
}
