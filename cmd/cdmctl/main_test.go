package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencdms/cdm-feature-service/internal/adapter/sqlite"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
	"github.com/opencdms/cdm-feature-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const openAPIDoc = `openapi: 3.0.2
definitions:
  A:
    type: string
paths:
  /collections/observations/items/{featureId}:
    get:
      responses:
        200:
          content:
            application/json:
              schema:
                definitions:
                  C:
                    type: integer
                  A:
                    type: number
    put:
      requestBody:
        content:
          application/json:
            schema:
              definitions:
                B:
                  type: boolean
`

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.MemoryPath, schema.MustNewBinder(""), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: cdmctl")

	stderr.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"migrate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "migrate"`)

	stderr.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"relocate-schema", "only-file"}, &stdout, &stderr))
}

func TestRelocateSchema_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"relocate-schema", filepath.Join(t.TempDir(), "nope.yml"), "observations"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Equal(t, "OpenAPI config file does not exist.\n", stderr.String())
}

func TestRelocateSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openapi.yml")
	require.NoError(t, os.WriteFile(path, []byte(openAPIDoc), 0o644))

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, relocateSchema(path, "observations", &stdout, &stderr), stderr.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		OpenAPI     string                    `yaml:"openapi"`
		Definitions map[string]map[string]any `yaml:"definitions"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))

	assert.Equal(t, "3.0.2", doc.OpenAPI)
	assert.Equal(t, map[string]map[string]any{
		"A": {"type": "number"},
		"B": {"type": "boolean"},
		"C": {"type": "integer"},
	}, doc.Definitions)
}

func TestRelocateDefinitions_NoRootDefinitions(t *testing.T) {
	in := `paths:
  /collections/hosts/items/{featureId}:
    put:
      requestBody:
        content:
          application/json:
            schema:
              definitions:
                Host:
                  type: object
`
	out, err := relocateDefinitions([]byte(in), "hosts")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, map[string]any{"Host": map[string]any{"type": "object"}}, doc["definitions"])
}

func TestRelocateDefinitions_Errors(t *testing.T) {
	_, err := relocateDefinitions([]byte(openAPIDoc), "hosts")
	assert.ErrorContains(t, err, `no item path for resource "hosts"`)

	_, err = relocateDefinitions([]byte("- a\n- b\n"), "hosts")
	assert.ErrorContains(t, err, "not a mapping")

	_, err = relocateDefinitions([]byte("a: [\n"), "hosts")
	assert.ErrorContains(t, err, "parse")
}

func TestSeedCheckClear(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	var out bytes.Buffer

	require.Equal(t, 0, seedDB(ctx, s, &out), out.String())
	assert.Contains(t, out.String(), "Successfully inserted 20 observations")

	n, err := s.Count(ctx, `SELECT COUNT(*) FROM "observation"`)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)

	out.Reset()
	assert.Equal(t, 0, check(ctx, s, &out))
	assert.Contains(t, out.String(), "No orphaned references.")

	out.Reset()
	require.Equal(t, 0, clearDB(ctx, s, &out))
	_, err = s.Count(ctx, `SELECT COUNT(*) FROM "observation"`)
	assert.Error(t, err)

	out.Reset()
	assert.Equal(t, 0, createSchema(ctx, s, &out))
	assert.Equal(t, "Schema created.\n", out.String())
}

type orphanStore struct {
	storage.Store
	counts []query.OrphanCount
	err    error
}

func (o orphanStore) Orphans(context.Context) ([]query.OrphanCount, error) { return o.counts, o.err }

func TestCheck_ReportsOrphans(t *testing.T) {
	s := orphanStore{counts: []query.OrphanCount{
		{OrphanCheck: query.OrphanCheck{Table: "observation", Column: "host_id", Target: "host"}, Count: 3},
		{OrphanCheck: query.OrphanCheck{Table: "observation", Column: "observer_id", Target: "observer"}, Count: 1},
		{OrphanCheck: query.OrphanCheck{Table: "host", Column: "user_id", Target: "user"}, Count: 2},
	}}

	var out bytes.Buffer
	assert.Equal(t, 1, check(context.Background(), s, &out))
	report := out.String()
	assert.Contains(t, report, "FAIL (2 errors)")
	assert.Contains(t, report, "[1] 3 rows with host_id not in host")
	assert.Contains(t, report, "[2] 1 rows with observer_id not in observer")
	assert.Contains(t, report, "[1] 2 rows with user_id not in user")
	assert.Contains(t, report, "Check FAILED.")
}

func TestCheck_QueryFailure(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, check(context.Background(), orphanStore{err: errors.New("boom")}, &out))
	assert.Contains(t, out.String(), "FATAL: orphan check: boom")
}
