// Package storage opens the configured storage driver behind one interface.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencdms/cdm-feature-service/internal/adapter/postgres"
	"github.com/opencdms/cdm-feature-service/internal/adapter/sqlite"
	"github.com/opencdms/cdm-feature-service/internal/config"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/feature"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
)

// Store is satisfied by both the postgres and sqlite adapters.
type Store interface {
	Dialect() schema.Dialect
	Query(ctx context.Context, sql string, args ...any) ([]feature.Row, error)
	Count(ctx context.Context, sql string, args ...any) (int64, error)
	Insert(ctx context.Context, r domain.Recorder, opts ...query.InsertOption) (any, bool, error)
	InsertBatch(ctx context.Context, recs []domain.Recorder, opts ...query.InsertOption) (int, error)
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error
	Orphans(ctx context.Context) ([]query.OrphanCount, error)
	CheckReadiness(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open connects to the driver named in cfg and returns the store with the
// binder it was opened with.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, *schema.Binder, error) {
	b, err := schema.NewBinder(cfg.DBSchema)
	if err != nil {
		return nil, nil, err
	}

	var s Store
	switch cfg.DBDriver {
	case config.DriverPostgres:
		logger.Info("opening postgres", "dsn", cfg.Redacted(), "schema", b.Schema())
		s, err = postgres.Open(ctx, postgres.Options{DSN: cfg.PostgresDSN(), MaxConns: cfg.DBMaxConns}, b, logger)
	case config.DriverSQLite:
		logger.Info("opening sqlite", "path", cfg.SQLitePath)
		s, err = sqlite.Open(ctx, cfg.SQLitePath, b, logger)
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, nil, err
	}
	return s, b, nil
}
