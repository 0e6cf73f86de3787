package provider

import (
	"fmt"
	"log/slog"

	"github.com/opencdms/cdm-feature-service/internal/config"
	"github.com/opencdms/cdm-feature-service/internal/observability"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
)

// Registry holds the providers of every published collection in
// configuration order. It is immutable after construction.
type Registry struct {
	byName map[string]*Provider
	order  []*Provider
}

// NewRegistry indexes providers by name. Names must be unique.
func NewRegistry(providers ...*Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate collection %q", p.Name())
		}
		r.byName[p.Name()] = p
		r.order = append(r.order, p)
	}
	return r, nil
}

// FromResources builds a provider per configured resource against exec.
func FromResources(resources []config.Resource, b *schema.Binder, exec Executor, logger *slog.Logger, metrics *observability.Metrics, opts ...query.Option) (*Registry, error) {
	providers := make([]*Provider, 0, len(resources))
	for _, res := range resources {
		t, err := query.NewTranslator(b, exec.Dialect(), query.Resource{
			Name:           res.Name,
			Table:          res.Provider.Table,
			IDField:        res.Provider.IDField,
			GeomField:      res.Provider.GeomField,
			TimeField:      res.Provider.TimeField,
			TimeStartField: res.Provider.TimeStartField,
		}, opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, New(t, exec, Info{
			Title:       res.Title,
			Description: res.Description,
			Keywords:    res.Keywords,
		}, logger, metrics))
	}
	return NewRegistry(providers...)
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// List returns every provider in configuration order.
func (r *Registry) List() []*Provider {
	return append([]*Provider(nil), r.order...)
}
