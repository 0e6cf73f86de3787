// Package postgres executes CDM queries against PostgreSQL/PostGIS through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/feature"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
)

// Options holds pool settings.
type Options struct {
	DSN      string
	MaxConns int32
}

// Store is a PostGIS-backed executor for feature queries and inserts.
type Store struct {
	pool    *pgxpool.Pool
	binder  *schema.Binder
	dialect schema.Postgres
	inserts *query.InsertBuilder
	logger  *slog.Logger
}

// Open opens a connection pool and verifies the server is reachable.
func Open(ctx context.Context, opts Options, binder *schema.Binder, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	poolCfg.MinConns = 2
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classify(fmt.Errorf("open postgres: %w", err))
	}

	s := &Store{
		pool:    pool,
		binder:  binder,
		inserts: query.NewInsertBuilder(binder, schema.Postgres{}),
		logger:  logger,
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Dialect returns the SQL dialect this store speaks.
func (s *Store) Dialect() schema.Dialect { return s.dialect }

// Ping checks that a connection can be acquired and used.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &domain.ConnectionError{Err: fmt.Errorf("ping postgres: %w", err)}
	}
	return nil
}

// CheckReadiness reports the database as ready when it answers a ping.
func (s *Store) CheckReadiness(ctx context.Context) error { return s.Ping(ctx) }

// Query runs a feature query and returns its rows with numeric values
// normalised to float64.
func (s *Store) Query(ctx context.Context, sql string, args ...any) ([]feature.Row, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	var out []feature.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classify(fmt.Errorf("scan row: %w", err))
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}

// Count runs a single-value COUNT statement.
func (s *Store) Count(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count: %w", err))
	}
	return n, nil
}

// Insert writes one entity and returns its primary key. inserted is false
// when IgnoreConflicts skipped an existing row.
func (s *Store) Insert(ctx context.Context, r domain.Recorder, opts ...query.InsertOption) (id any, inserted bool, err error) {
	return s.insert(ctx, s.pool, r, opts...)
}

// InsertBatch writes all records in a single transaction and returns how
// many rows were actually inserted.
func (s *Store) InsertBatch(ctx context.Context, recs []domain.Recorder, opts ...query.InsertOption) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n := 0
	for _, r := range recs {
		_, ok, err := s.insert(ctx, tx, r, opts...)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) insert(ctx context.Context, q querier, r domain.Recorder, opts ...query.InsertOption) (any, bool, error) {
	stmt, err := s.inserts.Insert(r, opts...)
	if err != nil {
		return nil, false, err
	}
	var id any
	if err := q.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, classify(fmt.Errorf("insert %s: %w", r.Entity(), err))
	}
	return normalize(id), true, nil
}

// CreateSchema creates the PostGIS extension, the schema, every table and
// its indexes.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.execAll(ctx, schema.CreateStatements(s.binder, s.dialect))
}

// DropSchema drops every CDM table. The schema namespace is kept.
func (s *Store) DropSchema(ctx context.Context) error {
	return s.execAll(ctx, schema.DropStatements(s.binder, s.dialect))
}

func (s *Store) execAll(ctx context.Context, stmts []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range stmts {
		s.logger.Debug("exec ddl", "statement", firstLine(stmt))
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("exec %q: %w", firstLine(stmt), err))
		}
	}
	return classify(tx.Commit(ctx))
}

// Orphans counts dangling foreign-key references per column. Only columns
// with at least one orphan are returned.
func (s *Store) Orphans(ctx context.Context) ([]query.OrphanCount, error) {
	var out []query.OrphanCount
	for _, c := range query.OrphanChecks(s.binder, s.dialect) {
		n, err := s.Count(ctx, c.SQL)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Table, c.Column, err)
		}
		if n > 0 {
			out = append(out, query.OrphanCount{OrphanCheck: c, Count: n})
		}
	}
	return out, nil
}

func normalize(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid {
			return nil
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int32:
		return int64(n)
	default:
		return v
	}
}

// classify maps connectivity failures to domain.ConnectionError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return &domain.ConnectionError{Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 57P0x: server shutting down
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0") {
			return &domain.ConnectionError{Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.ConnectionError{Err: err}
	}
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
