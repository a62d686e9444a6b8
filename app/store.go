package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/migrations"
	"github.com/pel/esocialize-portal/repositories"
	"github.com/pel/esocialize-portal/repositories/memory"
	"github.com/pel/esocialize-portal/repositories/postgres"
	"github.com/pel/esocialize-portal/repositories/sqlite"
)

// Store is an opened principal store backend
type Store struct {
	Repos   *repositories.Repositories
	DB      *sql.DB // nil for the memory backend
	Dialect migrations.Dialect
	close   func() error
}

// OpenStore opens the backend selected by cfg.Driver without touching the schema
func OpenStore(cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create repository factory: %w", err)
		}
		return &Store{
			Repos:   factory.NewRepositories(),
			DB:      factory.GetDB().DB,
			Dialect: migrations.Postgres,
			close:   factory.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Repos:   db.NewRepositories(),
			DB:      db.DB,
			Dialect: migrations.SQLite,
			close:   db.Close,
		}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory principal store, data is lost on restart")
		return &Store{Repos: memory.NewRepositories()}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// Migrate applies pending schema migrations. The memory backend has no schema.
func (s *Store) Migrate(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	if err := migrations.Up(ctx, s.DB, s.Dialect); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the backend connection
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
