// Package sqlite executes CDM queries against an embedded SQLite database.
// Geometry is stored as GeoJSON text and filtered with json_extract, which
// makes it suitable for local development and tests without PostGIS.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/feature"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed executor for feature queries and inserts.
type Store struct {
	db      *sql.DB
	binder  *schema.Binder
	dialect schema.SQLite
	inserts *query.InsertBuilder
	logger  *slog.Logger
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, binder *schema.Binder, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.ConnectionError{Err: fmt.Errorf("open sqlite: %w", err)}
	}
	if path == MemoryPath {
		// every new connection would see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, &domain.ConnectionError{Err: fmt.Errorf("enable WAL: %w", err)}
	}

	s := &Store{
		db:      db,
		binder:  binder,
		inserts: query.NewInsertBuilder(binder, schema.SQLite{}),
		logger:  logger,
	}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the SQL dialect this store speaks.
func (s *Store) Dialect() schema.Dialect { return s.dialect }

// Ping verifies the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.ConnectionError{Err: fmt.Errorf("ping sqlite: %w", err)}
	}
	return nil
}

// CheckReadiness reports the database as ready when it answers a ping.
func (s *Store) CheckReadiness(ctx context.Context) error { return s.Ping(ctx) }

// Query runs a feature query. Values come back as the driver's native types:
// int64, float64, string or nil.
func (s *Store) Query(ctx context.Context, stmt string, args ...any) ([]feature.Row, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []feature.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}

// Count runs a single-value COUNT statement.
func (s *Store) Count(ctx context.Context, stmt string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count: %w", err))
	}
	return n, nil
}

// Insert writes one entity and returns its primary key. inserted is false
// when IgnoreConflicts skipped an existing row.
func (s *Store) Insert(ctx context.Context, r domain.Recorder, opts ...query.InsertOption) (id any, inserted bool, err error) {
	return s.insert(ctx, s.db, r, opts...)
}

// InsertBatch writes all records in a single transaction and returns how
// many rows were actually inserted.
func (s *Store) InsertBatch(ctx context.Context, recs []domain.Recorder, opts ...query.InsertOption) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

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
	if err := tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) insert(ctx context.Context, q querier, r domain.Recorder, opts ...query.InsertOption) (any, bool, error) {
	stmt, err := s.inserts.Insert(r, opts...)
	if err != nil {
		return nil, false, err
	}
	var id any
	if err := q.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, classify(fmt.Errorf("insert %s: %w", r.Entity(), err))
	}
	if b, ok := id.([]byte); ok {
		id = string(b)
	}
	return id, true, nil
}

// CreateSchema creates every table and its indexes.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.execAll(ctx, schema.CreateStatements(s.binder, s.dialect))
}

// DropSchema drops every CDM table.
func (s *Store) DropSchema(ctx context.Context) error {
	return s.execAll(ctx, schema.DropStatements(s.binder, s.dialect))
}

func (s *Store) execAll(ctx context.Context, stmts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		s.logger.Debug("exec ddl", "statement", firstLine(stmt))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return classify(tx.Commit())
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

// classify maps a closed or busy database to domain.ConnectionError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "sql: database is closed") {
		return &domain.ConnectionError{Err: err}
	}
	var liteErr *moderncsqlite.Error
	if errors.As(err, &liteErr) {
		// extended result codes keep the primary code in the low byte
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &domain.ConnectionError{Err: err}
		}
	}
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
