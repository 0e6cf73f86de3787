package query_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var observations = query.Resource{
	Name:           "observations",
	Table:          "observation",
	IDField:        "id",
	GeomField:      "location",
	TimeField:      "phenomenon_end",
	TimeStartField: "phenomenon_start",
}

func newTranslator(t *testing.T, d schema.Dialect, res query.Resource, opts ...query.Option) *query.Translator {
	t.Helper()
	tr, err := query.NewTranslator(schema.MustNewBinder("cdm"), d, res, opts...)
	require.NoError(t, err)
	return tr
}

func TestQuery_NoFilters(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations)
	stmt, err := tr.Query(query.Request{})
	require.NoError(t, err)

	assert.NotContains(t, stmt.SQL, "WHERE")
	assert.Contains(t, stmt.SQL, `FROM "cdm"."observation"`)
	assert.Contains(t, stmt.SQL, `ST_AsGeoJSON("location")`)
	assert.Contains(t, stmt.SQL, `ORDER BY "id" ASC LIMIT $1 OFFSET $2`)
	assert.Equal(t, []any{int64(10), int64(0)}, stmt.Args)
	assert.Equal(t, "location", stmt.GeometryColumn)

	for _, c := range stmt.Properties {
		assert.NotEqual(t, domain.TypePoint, c.Type(), "geometry must not be a property")
	}
	assert.Len(t, stmt.Properties, 26)
}

func TestQuery_FilterAndSelect(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations)
	stmt, err := tr.Query(query.Request{
		Filters: []query.Filter{{Field: "result_description", Value: "A good result"}},
		Select:  []string{"result_description"},
	})
	require.NoError(t, err)

	want := `SELECT "id", "result_description", ST_AsGeoJSON("location") FROM "cdm"."observation" ` +
		`WHERE "result_description" = $1 ORDER BY "id" ASC LIMIT $2 OFFSET $3`
	assert.Equal(t, want, stmt.SQL)
	assert.Equal(t, []any{"A good result", int64(10), int64(0)}, stmt.Args)
}

func TestQuery_FilterNotInSelect(t *testing.T) {
	tr := newTranslator(t, schema.SQLite{}, observations)
	stmt, err := tr.Query(query.Request{
		Filters:      []query.Filter{{Field: "observed_property_id", Value: "2"}},
		Select:       []string{"result_value", "result_value", "result_uom"},
		SkipGeometry: true,
	})
	require.NoError(t, err)

	want := `SELECT "id", "result_value", "result_uom" FROM "observation" ` +
		`WHERE "observed_property_id" = ? ORDER BY "id" ASC LIMIT ? OFFSET ?`
	assert.Equal(t, want, stmt.SQL)
	assert.Equal(t, int64(2), stmt.Args[0])
	assert.Empty(t, stmt.GeometryColumn)

	var names []string
	for _, c := range stmt.Properties {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"result_value", "result_uom"}, names)
}

func TestQuery_NullFilter(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations)
	stmt, err := tr.Query(query.Request{Filters: []query.Filter{{Field: "report_id"}}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `WHERE "report_id" IS NULL`)
}

func TestQuery_BBox(t *testing.T) {
	nigeria := query.BBox{MinLon: 2.69170169436, MinLat: 4.24059418377, MaxLon: 14.5771777686, MaxLat: 13.8659239771}
	tr := newTranslator(t, schema.Postgres{}, observations)
	stmt, err := tr.Query(query.Request{BBox: &nigeria})
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `WHERE ("location"::geometry) && ST_MakeEnvelope($1, $2, $3, $4, 4326)`)
	assert.Contains(t, stmt.SQL, `ST_X(("location"::geometry)) BETWEEN $1 AND $3 AND ST_Y(("location"::geometry)) BETWEEN $2 AND $4`)
	assert.Equal(t, []any{nigeria.MinLon, nigeria.MinLat, nigeria.MaxLon, nigeria.MaxLat, int64(10), int64(0)}, stmt.Args)
}

func TestQuery_BBoxSQLiteArgOrder(t *testing.T) {
	nigeria := query.BBox{MinLon: 2.69170169436, MinLat: 4.24059418377, MaxLon: 14.5771777686, MaxLat: 13.8659239771}
	tr := newTranslator(t, schema.SQLite{}, observations)
	stmt, err := tr.Query(query.Request{BBox: &nigeria})
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `json_extract("location",'$.coordinates[0]') BETWEEN ? AND ? AND json_extract("location",'$.coordinates[1]') BETWEEN ? AND ?`)
	assert.Equal(t, []any{nigeria.MinLon, nigeria.MaxLon, nigeria.MinLat, nigeria.MaxLat, int64(10), int64(0)}, stmt.Args)

	count, err := tr.Count(query.Request{BBox: &nigeria})
	require.NoError(t, err)
	assert.Equal(t, []any{nigeria.MinLon, nigeria.MaxLon, nigeria.MinLat, nigeria.MaxLat}, count.Args)
}

func TestQuery_Datetime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("interval overlaps phenomenon extent", func(t *testing.T) {
		tr := newTranslator(t, schema.Postgres{}, observations)
		stmt, err := tr.Query(query.Request{Datetime: &query.Interval{Start: &start, End: &end}})
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `WHERE "phenomenon_end" >= $1 AND COALESCE("phenomenon_start", "phenomenon_end") <= $2`)
		assert.Equal(t, start, stmt.Args[0])
	})

	t.Run("open start", func(t *testing.T) {
		tr := newTranslator(t, schema.SQLite{}, observations)
		stmt, err := tr.Query(query.Request{Datetime: &query.Interval{End: &end}})
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `WHERE COALESCE("phenomenon_start", "phenomenon_end") <= ?`)
		assert.Equal(t, "2024-02-01T00:00:00.000000000Z", stmt.Args[0])
	})

	t.Run("resource without time field", func(t *testing.T) {
		res := observations
		res.TimeField, res.TimeStartField = "", ""
		tr := newTranslator(t, schema.Postgres{}, res)
		_, err := tr.Query(query.Request{Datetime: &query.Interval{Start: &start, End: &start}})
		assert.True(t, domain.IsQueryError(err))
	})
}

func TestQuery_SortAndPaging(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations, query.WithLimits(5, 100))

	stmt, err := tr.Query(query.Request{SortBy: query.ParseSortBy("-phenomenon_end,+result_value"), Offset: 20})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `ORDER BY "phenomenon_end" DESC, "result_value" ASC, "id" ASC`)
	assert.Equal(t, []any{int64(5), int64(20)}, stmt.Args)

	stmt, err = tr.Query(query.Request{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(100), stmt.Args[0])

	stmt, err = tr.Query(query.Request{SortBy: []query.Sort{{Field: "id", Desc: true}}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `ORDER BY "id" DESC LIMIT`)
}

func TestQuery_Errors(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations)
	inverted := query.BBox{MinLon: 10, MinLat: 0, MaxLon: 5, MaxLat: 1}

	tests := []struct {
		name string
		req  query.Request
	}{
		{"unknown filter field", query.Request{Filters: []query.Filter{{Field: "colour", Value: "red"}}}},
		{"unknown select field", query.Request{Select: []string{"colour"}}},
		{"geometry selected as property", query.Request{Select: []string{"location"}}},
		{"json filter", query.Request{Filters: []query.Filter{{Field: "parameter", Value: "{}"}}}},
		{"bad integer", query.Request{Filters: []query.Filter{{Field: "observed_property_id", Value: "two"}}}},
		{"fractional integer", query.Request{Filters: []query.Filter{{Field: "version", Value: 1.5}}}},
		{"bad decimal", query.Request{Filters: []query.Filter{{Field: "result_value", Value: "warm"}}}},
		{"bad timestamp", query.Request{Filters: []query.Filter{{Field: "result_time", Value: "yesterday"}}}},
		{"inverted bbox", query.Request{BBox: &inverted}},
		{"unknown sort", query.Request{SortBy: []query.Sort{{Field: "colour"}}}},
		{"negative limit", query.Request{Limit: -1}},
		{"negative offset", query.Request{Offset: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Query(tc.req)
			require.Error(t, err)
			assert.True(t, domain.IsQueryError(err), "want QueryError, got %v", err)
			assert.False(t, domain.IsNotFound(err))
		})
	}
}

func TestQuery_BBoxWithoutGeometry(t *testing.T) {
	res := observations
	res.GeomField = ""
	tr := newTranslator(t, schema.Postgres{}, res)

	stmt, err := tr.Query(query.Request{})
	require.NoError(t, err)
	assert.NotContains(t, stmt.SQL, "ST_AsGeoJSON")

	_, err = tr.Query(query.Request{BBox: &query.BBox{MaxLon: 1, MaxLat: 1}})
	assert.True(t, domain.IsQueryError(err))
}

func TestCount(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations)
	stmt, err := tr.Count(query.Request{
		Filters: []query.Filter{{Field: "result_value", Value: "301.15"}},
		Limit:   3,
		Select:  []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "cdm"."observation" WHERE "result_value" = $1`, stmt.SQL)
	require.Len(t, stmt.Args, 1)
	assert.True(t, decimal.RequireFromString("301.15").Equal(stmt.Args[0].(decimal.Decimal)))
}

func TestGet(t *testing.T) {
	t.Run("string id", func(t *testing.T) {
		tr := newTranslator(t, schema.Postgres{}, observations)
		stmt, err := tr.Get("2329039")
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `WHERE "id" = $1`)
		assert.Equal(t, []any{"2329039"}, stmt.Args)
		assert.Equal(t, "location", stmt.GeometryColumn)
	})

	t.Run("uncoercible integer id is not found", func(t *testing.T) {
		tr := newTranslator(t, schema.Postgres{}, query.Resource{Name: "properties", Table: "observed_property"})
		_, err := tr.Get("air-temperature")
		require.Error(t, err)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("integer id coerced", func(t *testing.T) {
		tr := newTranslator(t, schema.SQLite{}, query.Resource{Name: "properties", Table: "observed_property"})
		stmt, err := tr.Get("7")
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7)}, stmt.Args)
		assert.Empty(t, stmt.GeometryColumn)
	})
}

func TestNewTranslator_Validation(t *testing.T) {
	b := schema.MustNewBinder("cdm")
	bad := []query.Resource{
		{Name: "x", Table: "station"},
		{Name: "x", Table: "observation", IDField: "uuid"},
		{Name: "x", Table: "observation", GeomField: "elevation"},
		{Name: "x", Table: "observation", TimeField: "result_value"},
		{Name: "x", Table: "observation", TimeStartField: "phenomenon_start"},
	}
	for _, res := range bad {
		_, err := query.NewTranslator(b, schema.Postgres{}, res)
		assert.Error(t, err, "%+v", res)
	}
}

func TestQueryables(t *testing.T) {
	tr := newTranslator(t, schema.Postgres{}, observations)
	for _, c := range tr.Queryables() {
		assert.True(t, c.Type().Filterable(), c.Name)
	}
}

func TestParseBBox(t *testing.T) {
	b, err := query.ParseBBox("2.69,4.24,14.58,13.87")
	require.NoError(t, err)
	assert.Equal(t, query.BBox{MinLon: 2.69, MinLat: 4.24, MaxLon: 14.58, MaxLat: 13.87}, b)

	zero, err := query.ParseBBox("7.5,9,7.5,9")
	require.NoError(t, err)
	assert.True(t, zero.Contains(orb.Point{7.5, 9}))
	assert.False(t, zero.Contains(orb.Point{7.5, 9.000001}))

	for _, s := range []string{"1,2,3", "a,b,c,d", "10,0,5,1", "0,10,1,5", "-181,0,0,1", "0,0,0,91", "NaN,0,1,1"} {
		_, err := query.ParseBBox(s)
		assert.True(t, domain.IsQueryError(err), s)
	}
}

func TestParseInterval(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	iv, err := query.ParseInterval("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, iv.Instant())

	iv, err = query.ParseInterval("2024-01-01/2024-02-01T00:00:00Z")
	require.NoError(t, err)
	if diff := cmp.Diff(query.Interval{Start: &jan, End: &feb}, iv); diff != "" {
		t.Errorf("interval mismatch (-want +got):\n%s", diff)
	}

	iv, err = query.ParseInterval("../2024-02-01")
	require.NoError(t, err)
	assert.Nil(t, iv.Start)

	for _, s := range []string{"", "../..", "2024-02-01/2024-01-01", "soon"} {
		_, err := query.ParseInterval(s)
		assert.True(t, domain.IsQueryError(err), s)
	}
}

func TestCoerce(t *testing.T) {
	v, err := query.Coerce(domain.TypeTimestamp, "2024-04-26T16:00:00+01:00")
	require.NoError(t, err)
	assert.True(t, v.(time.Time).Equal(time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)))

	v, err = query.Coerce(domain.TypeInteger, float64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = query.Coerce(domain.TypeString, 42)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	_, err = query.Coerce(domain.TypePoint, "POINT(0 0)")
	assert.Error(t, err)
}
