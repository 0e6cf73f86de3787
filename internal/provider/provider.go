// Package provider serves feature queries for published collections. It
// lowers requests with a query.Translator, executes them against a storage
// Executor and assembles the rows into GeoJSON.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/feature"
	"github.com/opencdms/cdm-feature-service/internal/observability"
	"github.com/opencdms/cdm-feature-service/internal/query"
	"github.com/opencdms/cdm-feature-service/internal/schema"
)

// Executor runs lowered statements. Implementations classify unreachable
// storage as domain.ConnectionError.
type Executor interface {
	Dialect() schema.Dialect
	Query(ctx context.Context, sql string, args ...any) ([]feature.Row, error)
	Count(ctx context.Context, sql string, args ...any) (int64, error)
}

// Info is the descriptive metadata of a collection.
type Info struct {
	Title       string
	Description string
	Keywords    []string
}

// Provider answers queries for one collection. It is safe for concurrent use.
type Provider struct {
	translator *query.Translator
	exec       Executor
	info       Info
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Provider for the translator's resource.
func New(t *query.Translator, exec Executor, info Info, logger *slog.Logger, metrics *observability.Metrics) *Provider {
	name := t.Resource().Name
	if info.Title == "" {
		info.Title = name
	}
	return &Provider{
		translator: t,
		exec:       exec,
		info:       info,
		logger:     logger.With("collection", name),
		metrics:    metrics,
	}
}

// Name returns the collection name.
func (p *Provider) Name() string { return p.translator.Resource().Name }

func (p *Provider) Info() Info { return p.info }

func (p *Provider) Resource() query.Resource { return p.translator.Resource() }

// Queryables returns the columns that may be used as property filters.
func (p *Provider) Queryables() []schema.Column { return p.translator.Queryables() }

// Query returns one page of matching features. numberMatched counts every
// match across pages. For HitsType only the count is computed.
func (p *Provider) Query(ctx context.Context, req query.Request) (fc *feature.Collection, err error) {
	op := "query"
	if req.ResultType == query.HitsType {
		op = "count"
	}
	start := time.Now()
	defer func() { p.observe(op, start, err) }()

	// Lowering the full query validates projection, sorting and paging even
	// when only the count runs.
	stmt, err := p.translator.Query(req)
	if err != nil {
		return nil, err
	}
	countStmt, err := p.translator.Count(req)
	if err != nil {
		return nil, err
	}

	if req.ResultType == query.HitsType {
		n, err := p.exec.Count(ctx, countStmt.SQL, countStmt.Args...)
		if err != nil {
			return nil, err
		}
		return &feature.Collection{
			Type:          "FeatureCollection",
			Features:      []feature.Feature{},
			NumberMatched: &n,
			TimeStamp:     timestamp(),
		}, nil
	}

	rows, err := p.exec.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	n, err := p.exec.Count(ctx, countStmt.SQL, countStmt.Args...)
	if err != nil {
		return nil, err
	}

	fc, err = feature.Assemble(stmt, rows, req.SkipGeometry)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", p.Name(), err)
	}
	fc.NumberMatched = &n
	fc.TimeStamp = timestamp()
	p.metrics.FeaturesReturned.WithLabelValues(p.Name()).Add(float64(fc.NumberReturned))
	return fc, nil
}

// Get returns the feature with the given identifier.
func (p *Provider) Get(ctx context.Context, id any) (f *feature.Feature, err error) {
	start := time.Now()
	defer func() { p.observe("get", start, err) }()

	stmt, err := p.translator.Get(id)
	if err != nil {
		return nil, err
	}
	rows, err := p.exec.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.NotFoundError{Collection: p.Name(), ID: fmt.Sprint(id)}
	}
	f, err = feature.AssembleOne(stmt, rows[0], false)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", p.Name(), err)
	}
	p.metrics.FeaturesReturned.WithLabelValues(p.Name()).Inc()
	return f, nil
}

func (p *Provider) observe(op string, start time.Time, err error) {
	outcome := Outcome(err)
	p.metrics.ProviderRequests.WithLabelValues(p.Name(), op, outcome).Inc()
	p.metrics.QueryDuration.WithLabelValues(p.Name(), op).Observe(time.Since(start).Seconds())

	switch outcome {
	case "ok", "not_found":
		p.logger.Debug("provider request", "operation", op, "outcome", outcome)
	case "invalid":
		p.logger.Info("rejected request", "operation", op, "error", err)
	default:
		p.logger.Error("provider request failed", "operation", op, "outcome", outcome, "error", err)
	}
}

// Outcome classifies err into a metric label.
func Outcome(err error) string {
	var (
		qe *domain.QueryError
		nf *domain.NotFoundError
		ce *domain.ConnectionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &qe):
		return "invalid"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &ce):
		return "unavailable"
	default:
		return "error"
	}
}

func timestamp() string {
	return domain.Now().UTC().Format(time.RFC3339)
}
