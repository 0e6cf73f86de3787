package http

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/query"
)

// reserved names the items parameters that are not property filters.
var reserved = map[string]bool{
	"bbox": true, "bbox-crs": true, "limit": true, "offset": true, "properties": true,
	"skipGeometry": true, "sortby": true, "datetime": true, "resulttype": true,
	"f": true, "lang": true,
}

// parseItemsRequest builds a query.Request from items query parameters. Any
// parameter that is not reserved is an equality filter on that property.
func parseItemsRequest(v url.Values) (query.Request, error) {
	var req query.Request
	if err := checkFormat(v); err != nil {
		return req, err
	}

	if s := v.Get("bbox"); s != "" {
		if crs := v.Get("bbox-crs"); crs != "" && !isCRS84(crs) {
			return req, domain.QueryErrorf("unsupported bbox-crs %q", crs)
		}
		b, err := query.ParseBBox(s)
		if err != nil {
			return req, err
		}
		req.BBox = &b
	}

	var err error
	if req.Limit, err = intParam(v, "limit"); err != nil {
		return req, err
	}
	if req.Offset, err = intParam(v, "offset"); err != nil {
		return req, err
	}

	if s := v.Get("properties"); s != "" {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				req.Select = append(req.Select, p)
			}
		}
	}

	if s := v.Get("skipGeometry"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return req, domain.QueryErrorf("skipGeometry must be true or false")
		}
		req.SkipGeometry = b
	}

	if s := v.Get("sortby"); s != "" {
		req.SortBy = query.ParseSortBy(s)
	}

	if s := v.Get("datetime"); s != "" {
		iv, err := query.ParseInterval(s)
		if err != nil {
			return req, err
		}
		req.Datetime = &iv
	}

	switch rt := query.ResultType(v.Get("resulttype")); rt {
	case "", query.ResultsType:
		req.ResultType = query.ResultsType
	case query.HitsType:
		req.ResultType = query.HitsType
	default:
		return req, domain.QueryErrorf("resulttype must be results or hits")
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		if !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Filters = append(req.Filters, query.Filter{Field: k, Value: v.Get(k)})
	}
	return req, nil
}

func intParam(v url.Values, name string) (int, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.QueryErrorf("%s must be an integer", name)
	}
	if n < 0 {
		return 0, domain.QueryErrorf("%s must not be negative", name)
	}
	return n, nil
}

// checkFormat accepts only JSON output.
func checkFormat(v url.Values) error {
	switch strings.ToLower(v.Get("f")) {
	case "", "json", "geojson":
		return nil
	default:
		return domain.QueryErrorf("unsupported format %q", v.Get("f"))
	}
}

func isCRS84(crs string) bool {
	return crs == "http://www.opengis.net/def/crs/OGC/1.3/CRS84" || strings.EqualFold(crs, "EPSG:4326")
}
