// Package query lowers abstract feature-query requests into parameterised SQL
// against the relations bound by package schema.
package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/paulmach/orb"
)

// Filter is an equality predicate on one field. A nil Value matches NULL.
type Filter struct {
	Field string
	Value any
}

// BBox is a longitude/latitude box in EPSG:4326.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, domain.QueryErrorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, domain.QueryErrorf("bbox value %q is not a number", p)
		}
		v[i] = f
	}
	b := BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	return b, b.Validate()
}

// Validate rejects non-finite, out-of-range and inverted boxes. Zero-area
// boxes are valid.
func (b BBox) Validate() error {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.QueryErrorf("bbox values must be finite")
		}
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return domain.QueryErrorf("bbox %v outside [-180,-90,180,90]", b.Slice())
	}
	if b.MinLon > b.MaxLon {
		return domain.QueryErrorf("bbox min longitude %g greater than max %g", b.MinLon, b.MaxLon)
	}
	if b.MinLat > b.MaxLat {
		return domain.QueryErrorf("bbox min latitude %g greater than max %g", b.MinLat, b.MaxLat)
	}
	return nil
}

// Bound converts the box to an orb.Bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// Contains reports whether p lies inside the box, boundary included.
func (b BBox) Contains(p orb.Point) bool { return b.Bound().Contains(p) }

func (b BBox) Slice() []float64 { return []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} }

// Interval is a closed time interval. A nil end is unbounded; Start == End is
// an instant.
type Interval struct {
	Start, End *time.Time
}

// ParseInterval parses an RFC 3339 instant, or "start/end" where either side
// may be ".." or empty for an open end.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Interval{}, domain.QueryErrorf("datetime is empty")
	}
	start, end, isRange := strings.Cut(s, "/")
	if !isRange {
		t, err := parseTime(s)
		if err != nil {
			return Interval{}, domain.QueryErrorf("datetime %q: %v", s, err)
		}
		return Interval{Start: &t, End: &t}, nil
	}

	var iv Interval
	for _, side := range []struct {
		raw string
		dst **time.Time
	}{{start, &iv.Start}, {end, &iv.End}} {
		if side.raw == "" || side.raw == ".." {
			continue
		}
		t, err := parseTime(side.raw)
		if err != nil {
			return Interval{}, domain.QueryErrorf("datetime %q: %v", s, err)
		}
		*side.dst = &t
	}
	if iv.Start == nil && iv.End == nil {
		return Interval{}, domain.QueryErrorf("datetime %q has no bounds", s)
	}
	if iv.Start != nil && iv.End != nil && iv.Start.After(*iv.End) {
		return Interval{}, domain.QueryErrorf("datetime start is after end")
	}
	return iv, nil
}

// Instant reports whether the interval is a single point in time.
func (iv Interval) Instant() bool {
	return iv.Start != nil && iv.End != nil && iv.Start.Equal(*iv.End)
}

// Sort orders results by a field.
type Sort struct {
	Field string
	Desc  bool
}

// ParseSortBy parses "field,-field,+field".
func ParseSortBy(s string) []Sort {
	var out []Sort
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch part[0] {
		case '-':
			out = append(out, Sort{Field: part[1:], Desc: true})
		case '+':
			out = append(out, Sort{Field: part[1:]})
		default:
			out = append(out, Sort{Field: part})
		}
	}
	return out
}

// ResultType selects between returning features and only counting them.
type ResultType string

const (
	ResultsType ResultType = "results"
	HitsType    ResultType = "hits"
)

// Request is an abstract feature query.
type Request struct {
	Filters      []Filter
	Select       []string // nil selects every non-spatial field
	BBox         *BBox
	SkipGeometry bool
	ID           any
	Datetime     *Interval
	SortBy       []Sort
	Limit        int // 0 selects the default limit
	Offset       int
	ResultType   ResultType
}
