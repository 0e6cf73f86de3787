package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Coerce converts a filter or identifier value to the Go type stored for t.
func Coerce(t domain.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case domain.TypeString:
		switch sv := v.(type) {
		case string:
			return sv, nil
		case fmt.Stringer:
			return sv.String(), nil
		case int, int32, int64, float64, bool:
			return fmt.Sprint(sv), nil
		}
	case domain.TypeInteger:
		return coerceInt(v)
	case domain.TypeDecimal:
		return coerceDecimal(v)
	case domain.TypeTimestamp:
		switch tv := v.(type) {
		case time.Time:
			return tv, nil
		case string:
			return parseTime(tv)
		}
	case domain.TypeJSON, domain.TypePoint:
		return nil, fmt.Errorf("%s fields cannot be compared for equality", t)
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func coerceInt(v any) (int64, error) {
	switch iv := v.(type) {
	case int:
		return int64(iv), nil
	case int32:
		return int64(iv), nil
	case int64:
		return iv, nil
	case float64:
		if iv != math.Trunc(iv) || math.IsInf(iv, 0) {
			return 0, fmt.Errorf("%g is not an integer", iv)
		}
		return int64(iv), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(iv), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", iv)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot use %T as integer", v)
}

func coerceDecimal(v any) (decimal.Decimal, error) {
	switch dv := v.(type) {
	case decimal.Decimal:
		return dv, nil
	case int:
		return decimal.NewFromInt(int64(dv)), nil
	case int64:
		return decimal.NewFromInt(dv), nil
	case float64:
		if math.IsNaN(dv) || math.IsInf(dv, 0) {
			return decimal.Decimal{}, fmt.Errorf("%g is not a finite number", dv)
		}
		return decimal.NewFromFloat(dv), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(dv))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%q is not a number", dv)
		}
		return d, nil
	}
	return decimal.Decimal{}, fmt.Errorf("cannot use %T as number", v)
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime accepts RFC 3339, a zone-less datetime or a date. Zone-less
// values are taken as UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp", s)
}
