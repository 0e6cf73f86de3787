package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, MemoryPath, schema.MustNewBinder(""), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateSchema(ctx))
	return s
}

func TestInsert_GeneratedIntegerKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, inserted, err := s.Insert(ctx, domain.ObservationType{Name: domain.Ptr("in-situ")})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), id)

	id, _, err = s.Insert(ctx, domain.ObservationType{Name: domain.Ptr("remote sensing")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	id, _, err = s.Insert(ctx, domain.RecordStatus{})
	require.NoError(t, err, "empty record uses DEFAULT VALUES")
	assert.Equal(t, int64(1), id)
}

func TestInsert_IgnoreConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := domain.User{ID: "u-1", Name: domain.Ptr("Jane")}

	id, inserted, err := s.Insert(ctx, u, query.IgnoreConflicts())
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "u-1", id)

	_, inserted, err = s.Insert(ctx, u, query.IgnoreConflicts())
	require.NoError(t, err)
	assert.False(t, inserted)

	_, _, err = s.Insert(ctx, u)
	assert.Error(t, err, "duplicate key without IgnoreConflicts")
}

func TestInsertBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	end := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

	recs := []domain.Recorder{
		domain.Observation{ID: "a", PhenomenonEnd: &end, Location: &orb.Point{1, 2}},
		domain.Observation{ID: "b", PhenomenonEnd: &end, ResultValue: domain.Ptr(decimal.RequireFromString("21.5"))},
		domain.Observation{ID: "a", PhenomenonEnd: &end},
	}
	n, err := s.InsertBatch(ctx, recs, query.IgnoreConflicts())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(ctx, `SELECT COUNT(*) FROM "observation"`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	rows, err := s.Query(ctx, `SELECT "id", "phenomenon_end", "result_value", "location" FROM "observation" ORDER BY "id"`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0][0])
	assert.Equal(t, "2024-01-01T06:00:00.000000000Z", rows[0][1])
	assert.Nil(t, rows[0][2])
	assert.JSONEq(t, `{"type":"Point","coordinates":[1,2]}`, rows[0][3].(string))
	assert.Equal(t, 21.5, rows[1][2])
}

func TestInsertBatch_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []domain.Recorder{
		domain.User{ID: "u-1"},
		domain.User{ID: "u-1"},
	})
	require.Error(t, err)
	assert.False(t, domain.IsConnectionError(err), "a constraint violation is permanent")

	n, err := s.Count(ctx, `SELECT COUNT(*) FROM "user"`)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertBatch_LockedDatabaseIsConnectionError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdm.db")
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	holder, err := Open(ctx, path, schema.MustNewBinder(""), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })
	require.NoError(t, holder.CreateSchema(ctx))

	conn, err := holder.db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = conn.ExecContext(ctx, "ROLLBACK") })

	writer, err := Open(ctx, path, schema.MustNewBinder(""), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	_, err = writer.InsertBatch(ctx, []domain.Recorder{domain.User{ID: "u-1"}})
	require.Error(t, err)
	assert.True(t, domain.IsConnectionError(err), "a busy database is retried, got %v", err)
}

func TestOrphans(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=OFF")
	require.NoError(t, err)

	_, _, err = s.Insert(ctx, domain.Host{ID: "h-1"})
	require.NoError(t, err)
	_, _, err = s.Insert(ctx, domain.Observation{ID: "o-1", HostID: domain.Ptr("h-1")})
	require.NoError(t, err)
	_, _, err = s.Insert(ctx, domain.Observation{ID: "o-2", HostID: domain.Ptr("missing"), ObserverID: domain.Ptr("missing")})
	require.NoError(t, err)

	orphans, err := s.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	for _, o := range orphans {
		assert.Equal(t, "observation", o.Table)
		assert.Equal(t, int64(1), o.Count)
	}
	assert.ElementsMatch(t, []string{"host_id", "observer_id"}, []string{orphans[0].Column, orphans[1].Column})
}

func TestDropSchema(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DropSchema(ctx))

	_, err := s.Count(ctx, `SELECT COUNT(*) FROM "observation"`)
	assert.Error(t, err)

	require.NoError(t, s.CreateSchema(ctx), "schema can be recreated")
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdm.db")
	ctx := context.Background()
	s, err := Open(ctx, path, schema.MustNewBinder(""), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, s.CreateSchema(ctx))
	require.NoError(t, s.CheckReadiness(ctx))
	require.NoError(t, s.Close())

	err = s.Ping(ctx)
	assert.True(t, domain.IsConnectionError(err))
}
