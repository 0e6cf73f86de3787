package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/feature"
	"github.com/opencdms/cdm-feature-service/internal/provider"
	"github.com/opencdms/cdm-feature-service/internal/query"
)

const (
	contentJSON    = "application/json"
	contentGeoJSON = "application/geo+json"
	contentSchema  = "application/schema+json"
)

type ctxKey struct{}

func (s *Server) withProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "collectionId")
		p, ok := s.registry.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "NotFound", "collection "+strconv.Quote(name)+" not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, p)))
	})
}

func providerFrom(r *http.Request) *provider.Provider {
	return r.Context().Value(ctxKey{}).(*provider.Provider)
}

type collectionInfo struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	ItemType    string         `json:"itemType"`
	Links       []feature.Link `json:"links"`
}

func describe(p *provider.Provider) collectionInfo {
	info := p.Info()
	base := "/collections/" + url.PathEscape(p.Name())
	return collectionInfo{
		ID:          p.Name(),
		Title:       info.Title,
		Description: info.Description,
		Keywords:    info.Keywords,
		ItemType:    "feature",
		Links: []feature.Link{
			{Href: base, Rel: "self", Type: contentJSON, Title: "This collection"},
			{Href: base + "/items", Rel: "items", Type: contentGeoJSON, Title: "Items"},
			{Href: base + "/queryables", Rel: "http://www.opengis.net/def/rel/ogc/1.0/queryables", Type: contentSchema, Title: "Queryables"},
		},
	}
}

func (s *Server) handleCollections(w http.ResponseWriter, _ *http.Request) {
	out := struct {
		Collections []collectionInfo `json:"collections"`
		Links       []feature.Link   `json:"links"`
	}{
		Collections: []collectionInfo{},
		Links:       []feature.Link{{Href: "/collections", Rel: "self", Type: contentJSON}},
	}
	for _, p := range s.registry.List() {
		out.Collections = append(out.Collections, describe(p))
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, describe(providerFrom(r)))
}

type queryableProperty struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Format      string `json:"format,omitempty"`
}

func (s *Server) handleQueryables(w http.ResponseWriter, r *http.Request) {
	p := providerFrom(r)
	props := map[string]queryableProperty{}
	for _, c := range p.Queryables() {
		qp := queryableProperty{Title: c.Name, Description: c.Field.Description, Type: "string"}
		switch c.Type() {
		case domain.TypeInteger:
			qp.Type = "integer"
		case domain.TypeDecimal:
			qp.Type = "number"
		case domain.TypeTimestamp:
			qp.Format = "date-time"
		}
		props[c.Name] = qp
	}
	writeMedia(w, http.StatusOK, contentSchema, map[string]any{
		"$schema":    "https://json-schema.org/draft/2019-09/schema",
		"$id":        "/collections/" + url.PathEscape(p.Name()) + "/queryables",
		"type":       "object",
		"title":      p.Info().Title,
		"properties": props,
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	p := providerFrom(r)
	req, err := parseItemsRequest(r.URL.Query())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	fc, err := p.Query(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	fc.Links = pageLinks(r.URL, p.Name(), req, fc)
	writeMedia(w, http.StatusOK, contentGeoJSON, fc)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	p := providerFrom(r)
	if err := checkFormat(r.URL.Query()); err != nil {
		s.writeFailure(w, err)
		return
	}
	id := chi.URLParam(r, "featureId")
	f, err := p.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	base := "/collections/" + url.PathEscape(p.Name())
	writeMedia(w, http.StatusOK, contentGeoJSON, struct {
		*feature.Feature
		Links []feature.Link `json:"links"`
	}{
		Feature: f,
		Links: []feature.Link{
			{Href: base + "/items/" + url.PathEscape(id), Rel: "self", Type: contentGeoJSON},
			{Href: base, Rel: "collection", Type: contentJSON},
		},
	})
}

// pageLinks returns self plus prev/next links that keep every other query
// parameter unchanged.
func pageLinks(u *url.URL, collection string, req query.Request, fc *feature.Collection) []feature.Link {
	path := "/collections/" + url.PathEscape(collection) + "/items"
	at := func(offset int) string {
		q := u.Query()
		q.Set("offset", strconv.Itoa(offset))
		return path + "?" + q.Encode()
	}
	links := []feature.Link{{Href: at(req.Offset), Rel: "self", Type: contentGeoJSON}}
	if req.ResultType == query.HitsType {
		return links
	}
	limit := req.Limit
	if limit <= 0 {
		limit = fc.NumberReturned
	}
	if req.Offset > 0 && limit > 0 {
		links = append(links, feature.Link{Href: at(max(req.Offset-limit, 0)), Rel: "prev", Type: contentGeoJSON})
	}
	if fc.NumberMatched != nil && int64(req.Offset+fc.NumberReturned) < *fc.NumberMatched {
		links = append(links, feature.Link{Href: at(req.Offset + fc.NumberReturned), Rel: "next", Type: contentGeoJSON})
	}
	return links
}

// writeFailure maps error kinds onto status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var (
		qe *domain.QueryError
		nf *domain.NotFoundError
		ce *domain.ConnectionError
	)
	switch {
	case errors.As(err, &qe):
		writeError(w, http.StatusBadRequest, "InvalidParameterValue", qe.Reason)
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "NotFound", nf.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "storage unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "NoApplicableCode", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	sharedobs.WriteJSON(w, status, map[string]string{"code": code, "description": description})
}

// writeMedia encodes v under a JSON media type other than application/json.
func writeMedia(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
