package persistence

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/store"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Publisher delivers one outbox envelope to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// OutboxRelay drains committed outbox rows to a Publisher in sequence
// order. A row is marked published only after the publisher accepted it,
// so delivery is at-least-once and consumers dedup on EventID.
type OutboxRelay struct {
	outbox       store.Outbox
	publisher    Publisher
	batchSize    int
	pollInterval time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewOutboxRelay(
	outbox store.Outbox,
	publisher Publisher,
	batchSize int,
	pollInterval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		outbox:       outbox,
		publisher:    publisher,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		metrics:      metrics,
		logger:       logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// Run polls the outbox until ctx is cancelled. A failing batch is retried
// with exponential backoff; rows are never skipped.
func (r *OutboxRelay) Run(ctx context.Context) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		n, err := r.RelayOnce(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn().Err(err).Dur("backoff", backoff).Msg("outbox relay failed, retrying")
			wait = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case n == r.batchSize:
			// Full batch: more rows are likely waiting.
			backoff = 100 * time.Millisecond
			wait = 0
		default:
			backoff = 100 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RelayOnce publishes one batch and returns how many rows were marked.
// Publishing stops at the first failure so later rows never overtake an
// earlier one.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	start := time.Now()

	batch, err := r.outbox.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		r.countError("fetch")
		return 0, errors.Wrap(err, "fetch outbox")
	}
	if len(batch) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(batch))
	var pubErr error
	for _, env := range batch {
		if err := r.publisher.Publish(ctx, env); err != nil {
			r.countError("publish")
			pubErr = errors.Wrapf(err, "publish %s seq=%d", env.EventType, env.Sequence)
			break
		}
		published = append(published, env.Sequence)
	}

	if len(published) > 0 {
		if err := r.outbox.MarkPublished(ctx, published); err != nil {
			r.countError("mark")
			return 0, errors.Wrap(err, "mark published")
		}
	}

	if r.metrics != nil && len(published) > 0 {
		r.metrics.OutboxBatchDur.Observe(time.Since(start).Seconds())
		r.metrics.OutboxBatchSize.Observe(float64(len(published)))
		r.metrics.OutboxPublished.Add(float64(len(published)))
		r.metrics.OutboxLastSeq.Set(float64(published[len(published)-1]))
	}

	return len(published), pubErr
}

func (r *OutboxRelay) countError(stage string) {
	if r.metrics != nil {
		r.metrics.OutboxErrors.WithLabelValues(stage).Inc()
	}
}
