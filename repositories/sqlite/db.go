// Package sqlite implements the principal store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/migrations"
	"github.com/pel/esocialize-portal/repositories"
)

// SQLite DSN parameters
const (
	defaultBusyTimeout = "5000" // 5 seconds
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

// DB wraps a single-writer SQLite pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// Open opens path with WAL journaling and immediate write transactions.
// The pool holds one connection so writers queue instead of failing with SQLITE_BUSY.
func Open(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return &DB{DB: db, logger: logger}, nil
}

func buildDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode()
}

// Migrate applies the embedded goose migrations
func (db *DB) Migrate(ctx context.Context) error {
	if err := migrations.Up(ctx, db.DB, migrations.SQLite); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	db.logger.Info("sqlite migrations applied")
	return nil
}

// NewRepositories creates all repository instances
func (db *DB) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Principals: NewPrincipalRepository(db, db.logger),
		AuditLogs:  NewAuditRepository(db, db.logger),
	}
}
