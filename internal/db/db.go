// SPDX-License-Identifier: AGPL-3.0-or-later

// Package db provides the gorm-backed store for the registry's
// environment/config directory. It is the registry's only persistent
// state; everything else in the core is reconstructed from re-registration.
package db

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/db/models"
	"github.com/glebarez/sqlite"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MakeDB opens the configured driver, optionally wires OTLP tracing, and
// migrates the environment directory schema.
func MakeDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case config.DatabaseDriverSQLite:
		dialector = sqlite.Open(cfg.Database.Database)
	case config.DatabaseDriverPostgres:
		dialector = postgres.Open(fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database,
		))
	case config.DatabaseDriverMySQL:
		dialector = mysql.Open(fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database,
		))
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Database.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("db: failed to open database: %w", err)
	}

	if cfg.Metrics.OTLPEndpoint != "" {
		if err := gdb.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("db: failed to trace database: %w", err)
		}
	}

	if err := gdb.AutoMigrate(&models.EnvironmentDescriptor{}); err != nil {
		return nil, fmt.Errorf("db: failed to migrate environment directory: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: failed to access underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(runtime.GOMAXPROCS(0))
	sqlDB.SetMaxOpenConns(runtime.GOMAXPROCS(0) * 2)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	slog.Info("db: connected", "driver", cfg.Database.Driver)
	return gdb, nil
}
