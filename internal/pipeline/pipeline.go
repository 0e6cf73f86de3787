package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/opencdms/cdm-feature-service/internal/domain"
	"github.com/opencdms/cdm-feature-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw event into an observation.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.Observation, error)
}

// BatchLoader stores observations and reports how many were new.
type BatchLoader interface {
	LoadBatch(ctx context.Context, obs []domain.Observation) (inserted int, err error)
}

// DeadLetterer receives messages that could not be transformed or stored.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, letters []domain.DeadLetter) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeadLetters forwards rejected messages to d before their offsets are
// committed. Without it rejected messages are logged and skipped.
func WithDeadLetters(d DeadLetterer) Option {
	return func(p *Pipeline) { p.deadLetters = d }
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	deadLetters DeadLetterer
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	if batchSize <= 0 {
		batchSize = 1
	}
	p := &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness reports whether the last poll of the source and the last
// store attempt succeeded. An idle topic is ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("observation ingest is not healthy")
	}
	return nil
}

// Run executes the ingest loop until the context is cancelled. A batch is
// retried while storage is unreachable, so offsets never move past messages
// that were neither stored nor rejected.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "dead_letters", p.deadLetters != nil)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	b := newBackoff()
	for ctx.Err() == nil {
		batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.ready.Store(false)
			p.logger.Error("extract batch failed", "error", err)
			if !b.wait(ctx) {
				break
			}
			continue
		}
		p.ready.Store(true)
		b.reset()
		if len(batch) == 0 {
			continue
		}
		if !p.handle(ctx, batch, b) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// handle transforms a batch, stores the observations, dead-letters every
// rejected message and commits. Returns false if the context ended first.
func (p *Pipeline) handle(ctx context.Context, batch []domain.RawEvent, b *backoff) bool {
	start := time.Now()
	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	observations := make([]domain.Observation, 0, len(batch))
	sources := make([]domain.RawEvent, 0, len(batch))
	var rejected []domain.DeadLetter
	for _, raw := range batch {
		obs, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("transform failed, rejecting message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			rejected = append(rejected, domain.NewDeadLetter(raw, err))
			continue
		}
		observations = append(observations, obs)
		sources = append(sources, raw)
	}

	if len(observations) > 0 {
		inserted, refused, ok := p.load(ctx, b, observations, sources)
		if !ok {
			return false
		}
		rejected = append(rejected, refused...)
		p.metrics.RecordsInserted.Add(float64(inserted))
		p.metrics.RecordsDuplicate.Add(float64(len(observations) - len(refused) - inserted))
		p.logger.Debug("loaded batch", "observations", len(observations), "inserted", inserted, "refused", len(refused))
	}

	if len(rejected) > 0 && p.deadLetters != nil {
		err := p.retry(ctx, b, "dead-letter publish", always, func() error {
			return p.deadLetters.DeadLetter(ctx, rejected)
		})
		if err != nil {
			return false
		}
		p.metrics.DeadLettered.Add(float64(len(rejected)))
	}

	p.commit(ctx, batch)
	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// load stores observations, retrying while storage is unreachable. When the
// store refuses the batch for any other reason the observations are stored
// one at a time, and those still refused come back as dead letters for
// their source messages.
func (p *Pipeline) load(ctx context.Context, b *backoff, obs []domain.Observation, sources []domain.RawEvent) (int, []domain.DeadLetter, bool) {
	var inserted int
	err := p.retry(ctx, b, "load batch", domain.IsConnectionError, func() (err error) {
		inserted, err = p.loader.LoadBatch(ctx, obs)
		return err
	})
	if err == nil {
		return inserted, nil, true
	}
	if ctx.Err() != nil {
		return 0, nil, false
	}
	p.logger.Warn("store refused batch, loading observations one at a time", "error", err, "observations", len(obs))

	inserted = 0
	var refused []domain.DeadLetter
	for i := range obs {
		var n int
		err := p.retry(ctx, b, "load observation", domain.IsConnectionError, func() (err error) {
			n, err = p.loader.LoadBatch(ctx, obs[i:i+1])
			return err
		})
		if err == nil {
			inserted += n
			continue
		}
		if ctx.Err() != nil {
			return 0, nil, false
		}
		raw := sources[i]
		p.logger.Warn("store refused observation, rejecting message",
			"error", err,
			"id", obs[i].ID,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.LoadErrors.Inc()
		refused = append(refused, domain.NewDeadLetter(raw, err))
	}
	return inserted, refused, true
}

func always(error) bool { return true }

// retry runs fn until it succeeds or fails with an error retryable rejects,
// backing off between attempts. The pipeline reports not ready while
// retrying. Returns the last error, or the context's error if it ended first.
func (p *Pipeline) retry(ctx context.Context, b *backoff, what string, retryable func(error) bool, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			p.ready.Store(true)
			b.reset()
			return nil
		}
		if !retryable(err) {
			return err
		}
		p.ready.Store(false)
		p.logger.Error(what+" failed, retrying", "error", err, "backoff", b.cur)
		if !b.wait(ctx) {
			return ctx.Err()
		}
	}
}

type partitionKey struct {
	topic     string
	partition int
}

// commit acknowledges a handled batch. Consumer group commits are cumulative,
// so only the highest offset of each partition is committed.
func (p *Pipeline) commit(ctx context.Context, batch []domain.RawEvent) {
	last := map[partitionKey]domain.RawEvent{}
	var order []partitionKey
	for _, raw := range batch {
		if raw.Commit == nil {
			continue
		}
		k := partitionKey{raw.Topic, raw.Partition}
		cur, seen := last[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || raw.Offset >= cur.Offset {
			last[k] = raw
		}
	}
	for _, k := range order {
		raw := last[k]
		if err := raw.Commit(ctx); err != nil {
			p.logger.Warn("commit offset failed", "error", err,
				"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
		}
	}
}

const (
	minBackoff = 200 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// backoff doubles from minBackoff up to maxBackoff between failed attempts.
type backoff struct {
	cur time.Duration
}

func newBackoff() *backoff { return &backoff{cur: minBackoff} }

func (b *backoff) reset() { b.cur = minBackoff }

// wait sleeps for the current delay and advances it. Returns false if the
// context ended first.
func (b *backoff) wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, b.cur) {
		return false
	}
	b.cur = sharedretry.NextBackoff(b.cur, maxBackoff)
	return true
}
