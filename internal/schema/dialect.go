package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/shopspring/decimal"
)

// Dialect renders engine-specific SQL fragments. Geometry always crosses the
// driver boundary as GeoJSON text.
type Dialect interface {
	Name() string
	Quote(ident string) string
	Placeholder(n int) string
	Table(schema, table string) string
	ColumnType(f domain.Field) string
	PrimaryKeyType(f domain.Field) string
	GeometryParam(placeholder string) string
	GeometrySelect(column string) string
	// PointInBox is an inclusive test that the point in column lies within
	// the box. It binds the bounds through arg, in the order its SQL uses them.
	PointInBox(column string, minX, minY, maxX, maxY float64, arg func(any) string) string
	EncodeArg(t domain.FieldType, v any) (any, error)
	Prelude(schema string) []string
	Indexes(m RelationMapping) []string
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "postgis":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// Postgres targets PostgreSQL with the PostGIS extension.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string { return quoteIdent(ident) }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) Table(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func (Postgres) ColumnType(f domain.Field) string {
	switch f.Type {
	case domain.TypeInteger:
		return "INTEGER"
	case domain.TypeDecimal:
		return "NUMERIC"
	case domain.TypeTimestamp:
		return "TIMESTAMPTZ"
	case domain.TypeJSON:
		return "JSONB"
	case domain.TypePoint:
		return "geography(POINT,4326)"
	default:
		return "VARCHAR"
	}
}

func (p Postgres) PrimaryKeyType(f domain.Field) string {
	if f.Type == domain.TypeInteger {
		return "INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	return p.ColumnType(f) + " PRIMARY KEY"
}

func (Postgres) GeometryParam(ph string) string {
	return "ST_SetSRID(ST_GeomFromGeoJSON(" + ph + "),4326)::geography"
}

func (Postgres) GeometrySelect(col string) string { return "ST_AsGeoJSON(" + col + ")" }

// PointInBox pairs an envelope overlap, which the expression index on
// col::geometry serves, with an exact inclusive coordinate test. Numbered
// placeholders are reused across both terms.
func (Postgres) PointInBox(col string, minX, minY, maxX, maxY float64, arg func(any) string) string {
	g := "(" + col + "::geometry)"
	x0, y0, x1, y1 := arg(minX), arg(minY), arg(maxX), arg(maxY)
	return fmt.Sprintf("%s && ST_MakeEnvelope(%s, %s, %s, %s, 4326) AND ST_X(%s) BETWEEN %s AND %s AND ST_Y(%s) BETWEEN %s AND %s",
		g, x0, y0, x1, y1, g, x0, x1, g, y0, y1)
}

func (Postgres) EncodeArg(t domain.FieldType, v any) (any, error) {
	return encodeCommon(t, v, func(ts time.Time) any { return ts })
}

func (Postgres) Prelude(schema string) []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		"CREATE SCHEMA IF NOT EXISTS " + quoteIdent(schema),
	}
}

func (p Postgres) Indexes(m RelationMapping) []string {
	var out []string
	for _, c := range m.Columns {
		if !c.Field.Indexed {
			continue
		}
		using, expr := "", quoteIdent(c.Name)
		if c.Type() == domain.TypePoint {
			using, expr = " USING GIST", "("+expr+"::geometry)"
		}
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s%s (%s)",
			quoteIdent(m.Table+"_"+c.Name+"_idx"), p.Table(m.Schema, m.Table), using, expr))
	}
	return out
}

// SQLite stores geometry as GeoJSON text and timestamps as fixed-width UTC
// text so that lexical order matches time order. It has no schemas; the
// schema name is ignored.
type SQLite struct{}

// sqliteTimeLayout is fixed width; RFC3339Nano trims trailing zeros.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string { return quoteIdent(ident) }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Table(_, table string) string { return quoteIdent(table) }

func (SQLite) ColumnType(f domain.Field) string {
	switch f.Type {
	case domain.TypeInteger:
		return "INTEGER"
	case domain.TypeDecimal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (s SQLite) PrimaryKeyType(f domain.Field) string {
	return s.ColumnType(f) + " PRIMARY KEY"
}

func (SQLite) GeometryParam(ph string) string { return ph }

func (SQLite) GeometrySelect(col string) string { return col }

// PointInBox binds positionally, so bounds are bound in SQL order.
func (SQLite) PointInBox(col string, minX, minY, maxX, maxY float64, arg func(any) string) string {
	x := "json_extract(" + col + ",'$.coordinates[0]')"
	y := "json_extract(" + col + ",'$.coordinates[1]')"
	xr := arg(minX) + " AND " + arg(maxX)
	yr := arg(minY) + " AND " + arg(maxY)
	return x + " BETWEEN " + xr + " AND " + y + " BETWEEN " + yr
}

func (SQLite) EncodeArg(t domain.FieldType, v any) (any, error) {
	if d, ok := v.(decimal.Decimal); ok && t == domain.TypeDecimal {
		return d.InexactFloat64(), nil
	}
	return encodeCommon(t, v, func(ts time.Time) any { return ts.UTC().Format(sqliteTimeLayout) })
}

func (SQLite) Prelude(string) []string { return nil }

func (s SQLite) Indexes(m RelationMapping) []string {
	var out []string
	for _, c := range m.Columns {
		if !c.Field.Indexed || c.Type() == domain.TypePoint {
			continue
		}
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(m.Table+"_"+c.Name+"_idx"), s.Table(m.Schema, m.Table), quoteIdent(c.Name)))
	}
	return out
}

// ParseStoredTime parses a timestamp as written by SQLite.EncodeArg or any
// RFC 3339 value.
func ParseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func encodeCommon(t domain.FieldType, v any, encodeTime func(time.Time) any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case domain.TypePoint:
		return encodePoint(v)
	case domain.TypeJSON:
		return encodeJSON(v)
	case domain.TypeTimestamp:
		switch tv := v.(type) {
		case time.Time:
			return encodeTime(tv), nil
		case *time.Time:
			if tv == nil {
				return nil, nil
			}
			return encodeTime(*tv), nil
		}
	}
	return v, nil
}

func encodePoint(v any) (any, error) {
	var g orb.Geometry
	switch pv := v.(type) {
	case orb.Point:
		g = pv
	case *orb.Point:
		if pv == nil {
			return nil, nil
		}
		g = *pv
	case orb.Geometry:
		g = pv
	case string:
		return pv, nil
	default:
		return nil, fmt.Errorf("unsupported geometry value %T", v)
	}
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return string(data), nil
}

func encodeJSON(v any) (any, error) {
	switch jv := v.(type) {
	case json.RawMessage:
		return string(jv), nil
	case []byte:
		return string(jv), nil
	case string:
		return jv, nil
	default:
		data, err := json.Marshal(jv)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
