// Package pipeline resolves batch geocoding requests consumed from a message
// source and publishes one response per request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/couchcryptid/geocode-aggregator/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of requests resolved at once when WithWorkers
// is not given.
const DefaultWorkers = 4

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw batch requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer resolves one raw batch request into a serialized response.
// It must be safe for concurrent use.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple responses to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets how many requests of one consumed batch are resolved
// concurrently. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClock replaces the clock used for cycle timings.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// Pipeline consumes batch geocoding requests, resolves them and publishes
// the responses. Offsets are committed only after the response is published,
// except for requests that can never be answered, which are committed and
// dropped.
type Pipeline struct {
	source  BatchExtractor
	resolve Transformer
	sink    BatchLoader
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	batchSize int
	workers   int
	ready     atomic.Bool
}

// New wires the three stages together.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    e,
		resolve:   t,
		sink:      l,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		batchSize: batchSize,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the pipeline has published at least one response.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any responses yet")
	}
	return nil
}

// Run repeats extract, resolve, publish cycles until ctx is cancelled. A cycle
// that fails to read or publish is retried with exponential backoff.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	wait := backoff{next: initialBackoff}
	for ctx.Err() == nil {
		if err := p.cycle(ctx); err != nil {
			if ctx.Err() != nil || !wait.sleep(ctx) {
				break
			}
			continue
		}
		wait.reset()
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// outcome is the resolution of one request in a consumed batch.
type outcome struct {
	response domain.OutputEvent
	err      error
}

// cycle consumes one batch, answers every request it can and commits the
// batch. Nothing is committed when ctx is cancelled mid-cycle.
func (p *Pipeline) cycle(ctx context.Context) error {
	start := p.clock.Now()

	requests, err := p.source.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("extract batch failed", "error", err)
		}
		return fmt.Errorf("extract: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}
	p.metrics.MessagesConsumed.Add(float64(len(requests)))
	p.metrics.BatchSize.Observe(float64(len(requests)))

	outcomes := p.resolveAll(ctx, requests)
	if err := ctx.Err(); err != nil {
		return err
	}

	responses := make([]domain.OutputEvent, 0, len(requests))
	answered := make([]domain.RawEvent, 0, len(requests))
	for i, o := range outcomes {
		if o.err != nil {
			p.drop(ctx, requests[i], o.err)
			continue
		}
		responses = append(responses, o.response)
		answered = append(answered, requests[i])
	}
	if len(responses) == 0 {
		return nil
	}

	if err := p.sink.LoadBatch(ctx, responses); err != nil {
		if ctx.Err() == nil {
			p.logger.Error("publish responses failed", "error", err, "responses", len(responses))
		}
		return fmt.Errorf("load: %w", err)
	}
	p.metrics.MessagesProduced.Add(float64(len(responses)))
	for _, raw := range answered {
		p.commit(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return nil
}

// resolveAll transforms requests with at most p.workers in flight. The
// outcomes are in request order.
func (p *Pipeline) resolveAll(ctx context.Context, requests []domain.RawEvent) []outcome {
	outcomes := make([]outcome, len(requests))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, raw := range requests {
		g.Go(func() error {
			resp, err := p.resolve.Transform(ctx, raw)
			outcomes[i] = outcome{response: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// drop commits a request that cannot be answered so it is not redelivered.
func (p *Pipeline) drop(ctx context.Context, raw domain.RawEvent, err error) {
	p.logger.Warn("request cannot be resolved, dropping",
		"error", err,
		"key", string(raw.Key),
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	p.metrics.TransformErrors.Inc()
	p.commit(ctx, raw)
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoff is the delay between failed cycles.
type backoff struct {
	next time.Duration
}

// sleep waits for the current delay and doubles it up to maxBackoff. It
// reports false when ctx ended the wait.
func (b *backoff) sleep(ctx context.Context) bool {
	if !retry.SleepWithContext(ctx, b.next) {
		return false
	}
	b.next = retry.NextBackoff(b.next, maxBackoff)
	return true
}

func (b *backoff) reset() { b.next = initialBackoff }
