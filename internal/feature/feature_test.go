package feature_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/feature"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statement(t *testing.T, req query.Request) query.Statement {
	t.Helper()
	tr, err := query.NewTranslator(schema.MustNewBinder("cdm"), schema.SQLite{}, query.Resource{
		Name: "observations", Table: "observation", GeomField: "location",
	})
	require.NoError(t, err)
	stmt, err := tr.Query(req)
	require.NoError(t, err)
	return stmt
}

func TestAssemble(t *testing.T) {
	stmt := statement(t, query.Request{Select: []string{"result_description", "result_value", "phenomenon_end", "result_quality"}})
	rows := []feature.Row{
		{"b", "A good result", 301.15, "2024-04-26T15:00:00.000000000Z", `{"qc":"ok"}`, `{"type":"Point","coordinates":[3.38,6.52]}`},
		{"a", nil, nil, nil, nil, nil},
	}

	fc, err := feature.Assemble(stmt, rows, false)
	require.NoError(t, err)

	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Equal(t, 2, fc.NumberReturned)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, "b", first.ID, "row order preserved")
	require.NotNil(t, first.Geometry)
	assert.Equal(t, orb.Point{3.38, 6.52}, first.Geometry.Geometry())
	assert.Equal(t, 301.15, first.Properties["result_value"])
	assert.Equal(t, time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC), first.Properties["phenomenon_end"])
	assert.Equal(t, json.RawMessage(`{"qc":"ok"}`), first.Properties["result_quality"])

	second := fc.Features[1]
	assert.Nil(t, second.Geometry)
	assert.Len(t, second.Properties, 4)
	assert.Nil(t, second.Properties["result_description"])
}

func TestAssemble_SkipGeometry(t *testing.T) {
	stmt := statement(t, query.Request{Select: []string{"result_description"}})
	rows := []feature.Row{{"a", "A good result", `{"type":"Point","coordinates":[1,2]}`}}

	fc, err := feature.Assemble(stmt, rows, true)
	require.NoError(t, err)
	assert.Nil(t, fc.Features[0].Geometry)

	data, err := json.Marshal(fc.Features[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Feature","id":"a","geometry":null,"properties":{"result_description":"A good result"}}`, string(data))
}

func TestAssemble_Empty(t *testing.T) {
	stmt := statement(t, query.Request{})
	fc, err := feature.Assemble(stmt, nil, false)
	require.NoError(t, err)

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[],"numberReturned":0}`, string(data))
}

func TestAssemble_Errors(t *testing.T) {
	stmt := statement(t, query.Request{Select: []string{"result_quality"}})

	_, err := feature.Assemble(stmt, []feature.Row{{"a", `{"qc"`, nil}}, false)
	assert.Error(t, err, "invalid JSON")

	_, err = feature.Assemble(stmt, []feature.Row{{"a", nil}}, false)
	assert.Error(t, err, "column count")

	_, err = feature.Assemble(stmt, []feature.Row{{"a", nil, `{"type":"Blob"}`}}, false)
	assert.Error(t, err, "bad geometry")
}
