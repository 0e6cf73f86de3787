// Package feature assembles storage rows into GeoJSON feature collections.
package feature

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
	"github.com/paulmach/orb/geojson"
	"github.com/shopspring/decimal"
)

// Row is one result row in the column order of its query.Statement.
type Row []any

// Feature is a GeoJSON feature. A nil Geometry encodes as null.
type Feature struct {
	Type       string            `json:"type"`
	ID         any               `json:"id"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

// Link is an OGC API link object.
type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Collection is a GeoJSON feature collection with OGC API paging members.
type Collection struct {
	Type           string    `json:"type"`
	Features       []Feature `json:"features"`
	NumberMatched  *int64    `json:"numberMatched,omitempty"`
	NumberReturned int       `json:"numberReturned"`
	Links          []Link    `json:"links,omitempty"`
	TimeStamp      string    `json:"timeStamp,omitempty"`
}

// Assemble converts rows into a collection, keeping row order. With
// skipGeometry every feature has a null geometry.
func Assemble(stmt query.Statement, rows []Row, skipGeometry bool) (*Collection, error) {
	fc := &Collection{Type: "FeatureCollection", Features: make([]Feature, 0, len(rows))}
	for i, row := range rows {
		f, err := AssembleOne(stmt, row, skipGeometry)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		fc.Features = append(fc.Features, *f)
	}
	fc.NumberReturned = len(fc.Features)
	return fc, nil
}

// AssembleOne converts a single row.
func AssembleOne(stmt query.Statement, row Row, skipGeometry bool) (*Feature, error) {
	want := 1 + len(stmt.Properties)
	if stmt.GeometryColumn != "" {
		want++
	}
	if len(row) != want {
		return nil, fmt.Errorf("expected %d columns, got %d", want, len(row))
	}

	f := &Feature{
		Type:       "Feature",
		ID:         decodeID(row[0]),
		Properties: make(map[string]any, len(stmt.Properties)),
	}
	for i, col := range stmt.Properties {
		v, err := decodeValue(col, row[i+1])
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", col.Name, err)
		}
		f.Properties[col.Name] = v
	}
	if stmt.GeometryColumn != "" && !skipGeometry {
		g, err := decodeGeometry(row[len(row)-1])
		if err != nil {
			return nil, fmt.Errorf("geometry %s: %w", stmt.GeometryColumn, err)
		}
		f.Geometry = g
	}
	return f, nil
}

func decodeID(v any) any {
	switch id := v.(type) {
	case []byte:
		return string(id)
	case int32:
		return int64(id)
	default:
		return id
	}
}

func decodeGeometry(v any) (*geojson.Geometry, error) {
	var data []byte
	switch g := v.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(g)
	case []byte:
		data = g
	default:
		return nil, fmt.Errorf("unexpected geometry value %T", v)
	}
	return geojson.UnmarshalGeometry(data)
}

func decodeValue(col schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type() {
	case domain.TypeJSON:
		var raw []byte
		switch jv := v.(type) {
		case string:
			raw = []byte(jv)
		case []byte:
			raw = jv
		default:
			return v, nil
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid JSON value")
		}
		return json.RawMessage(raw), nil
	case domain.TypeTimestamp:
		switch tv := v.(type) {
		case time.Time:
			return tv.UTC(), nil
		case string:
			t, err := schema.ParseStoredTime(tv)
			if err != nil {
				return nil, err
			}
			return t.UTC(), nil
		}
	case domain.TypeDecimal:
		switch dv := v.(type) {
		case float64:
			return dv, nil
		case int64:
			return float64(dv), nil
		case decimal.Decimal:
			return dv.InexactFloat64(), nil
		case string:
			return strconv.ParseFloat(dv, 64)
		case []byte:
			return strconv.ParseFloat(string(dv), 64)
		}
	case domain.TypeInteger:
		switch iv := v.(type) {
		case int64:
			return iv, nil
		case int32:
			return int64(iv), nil
		case int:
			return int64(iv), nil
		case float64:
			return int64(iv), nil
		}
	case domain.TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("unexpected %T for %s column", v, col.Type())
}
