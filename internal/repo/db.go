// Package repo implements persistence for the status projection and the
// firehose cursor on top of GORM and the pure Go SQLite driver.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-statusphere/internal/domain"
)

const defaultMaxOpenConns = 10

// sqlitePragmas run on every new database handle. WAL lets API readers keep
// a consistent snapshot while the consumer commits an apply.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// OpenSQLite opens (or creates) the database at path, applies the pragmas
// and sizes the connection pool. maxOpenConns <= 0 selects the default.
func OpenSQLite(path string, maxOpenConns int) (*gorm.DB, error) {
	// A missing parent directory surfaces from SQLite as an opaque
	// "out of memory (14)", so check it first.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// EnableTracing installs the GORM OpenTelemetry plugin so every query emits
// a span under the caller's context. Metrics are left to Prometheus.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates the projection and cursor tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Status{}, &domain.Cursor{})
}
