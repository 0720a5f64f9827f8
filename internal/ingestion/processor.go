package ingestion

import (
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/observability"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ReportApplier applies one report in its own unit of work.
// *core.Engine satisfies it.
type ReportApplier interface {
	ApplyReport(ctx context.Context, report event.Report) error
}

// Result of handling one inbound message.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected" // domain error, acked
	ResultInvalid   Result = "invalid"  // undecodable, terminated
	ResultRetry     Result = "retry"    // nak, redelivered
)

// Processor drains raw reports from the subscriber, filters replays
// through the LRU and applies the rest.
type Processor struct {
	applier ReportApplier
	dedup   *core.IdempotencyChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(applier ReportApplier, dedup *core.IdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		applier: applier,
		dedup:   dedup,
		metrics: metrics,
		logger:  logger.With().Str("component", "report_processor").Logger(),
	}
}

// Run handles messages until ctx is cancelled or in is closed.
func (p *Processor) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles its delivery.
func (p *Processor) Handle(ctx context.Context, raw RawEvent) Result {
	result := p.handle(ctx, raw)
	switch result {
	case ResultApplied, ResultDuplicate, ResultRejected:
		call(raw.AckFunc)
	case ResultInvalid:
		call(raw.TermFunc)
	default:
		call(raw.NakFunc)
	}
	if p.metrics != nil {
		p.metrics.ReportsReceived.WithLabelValues(raw.EventType, string(result)).Inc()
	}
	return result
}

func (p *Processor) handle(ctx context.Context, raw RawEvent) Result {
	report, err := ParseRawEvent(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping undecodable report")
		return ResultInvalid
	}

	key := core.ReportKey(report)
	if p.dedup != nil && p.dedup.IsDuplicate(ctx, key) {
		return ResultDuplicate
	}

	err = p.applier.ApplyReport(ctx, report)
	switch {
	case err == nil:
		p.markSeen(key)
		return ResultApplied
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		p.markSeen(key)
		return ResultDuplicate
	case ledger.Retryable(err), ledger.Code(err) == ledger.CodeInternal, ctx.Err() != nil:
		p.logger.Error().Err(err).Str("key", key).Uint64("attempt", raw.Attempt).Msg("report failed, will redeliver")
		return ResultRetry
	default:
		p.logger.Warn().Err(err).Str("key", key).Str("code", ledger.Code(err)).Msg("report rejected")
		return ResultRejected
	}
}

func (p *Processor) markSeen(key string) {
	if p.dedup != nil {
		p.dedup.MarkProcessed(key)
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}
