package pipeline

import (
	"context"
	"log/slog"

	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/query"
)

// ObservationTransformer implements Transformer with domain.ParseObservation.
type ObservationTransformer struct {
	logger *slog.Logger
}

func NewTransformer(logger *slog.Logger) *ObservationTransformer {
	return &ObservationTransformer{logger: logger}
}

func (t *ObservationTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.Observation, error) {
	obs, err := domain.ParseObservation(raw)
	if err != nil {
		return domain.Observation{}, err
	}
	t.logger.Debug("parsed observation", "id", obs.ID, "offset", raw.Offset)
	return obs, nil
}

// BatchInserter writes records in one transaction. Both storage adapters
// implement it.
type BatchInserter interface {
	InsertBatch(ctx context.Context, recs []domain.Recorder, opts ...query.InsertOption) (int, error)
}

// StoreLoader implements BatchLoader over a BatchInserter. Redelivered
// observations share their deterministic ID and are skipped.
type StoreLoader struct {
	store BatchInserter
}

func NewStoreLoader(store BatchInserter) *StoreLoader {
	return &StoreLoader{store: store}
}

func (l *StoreLoader) LoadBatch(ctx context.Context, obs []domain.Observation) (int, error) {
	recs := make([]domain.Recorder, len(obs))
	for i := range obs {
		recs[i] = obs[i]
	}
	return l.store.InsertBatch(ctx, recs, query.IgnoreConflicts())
}
