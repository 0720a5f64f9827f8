package core

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/store"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config tunes the engine.
type Config struct {
	// MaxConflictRetries bounds re-attempts of a unit of work that lost an
	// optimistic update. Zero disables retries.
	MaxConflictRetries int

	// BotFundingAssets is the preference order for funding bot positions.
	BotFundingAssets []ledger.Asset
}

// DefaultConfig allows three conflict retries and funds bots from USDT or USDC.
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: 3,
		BotFundingAssets:   []ledger.Asset{ledger.AssetUSDT, ledger.AssetUSDC},
	}
}

// Notifier receives committed events. Implementations must not block.
type Notifier interface {
	Notify(evt event.Event)
}

// Engine runs every external operation as one unit of work against the
// store: validate, mutate, journal, append outbox, commit. Lost updates
// are retried a bounded number of times. Notifications go out only after
// commit.
type Engine struct {
	store    store.Store
	cfg      Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	notifier Notifier
	clock    func() time.Time
}

type Option func(*Engine)

// WithLogger sets the engine logger. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records operation outcomes and latencies on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier receives every event after its unit of work commits.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the UTC wall clock, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine builds an engine over s, filling unset config from DefaultConfig.
func NewEngine(s store.Store, cfg Config, opts ...Option) *Engine {
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	if len(cfg.BotFundingAssets) == 0 {
		cfg.BotFundingAssets = DefaultConfig().BotFundingAssets
	}

	e := &Engine{
		store:  s,
		cfg:    cfg,
		logger: zerolog.Nop(),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// --- Settlement workflow ---

// CreateSettlement opens a PENDING deposit or withdrawal for accountID.
func (e *Engine) CreateSettlement(ctx context.Context, accountID uuid.UUID, kind ledger.SettlementKind,
	asset ledger.Asset, amount decimal.Decimal) (*ledger.SettlementRequest, error) {
	var out *ledger.SettlementRequest
	err := e.run(ctx, "CreateSettlement", func(ctx context.Context, u *unit) error {
		r, err := u.settlements.Create(ctx, accountID, kind, asset, amount)
		out = r
		return err
	})
	return out, err
}

// ConfirmSettlement records the owner's confirmation and moves the request to review.
func (e *Engine) ConfirmSettlement(ctx context.Context, requestID, accountID uuid.UUID) (*ledger.SettlementRequest, error) {
	var out *ledger.SettlementRequest
	err := e.run(ctx, "ConfirmSettlement", func(ctx context.Context, u *unit) error {
		r, err := u.settlements.Confirm(ctx, requestID, accountID)
		out = r
		return err
	})
	return out, err
}

// DecideSettlement applies a reviewer's approve or reject outcome exactly once.
func (e *Engine) DecideSettlement(ctx context.Context, requestID uuid.UUID, reviewer auth.Principal,
	outcome ledger.Outcome, reason string) (*ledger.SettlementRequest, error) {
	var out *ledger.SettlementRequest
	err := e.run(ctx, "DecideSettlement", func(ctx context.Context, u *unit) error {
		r, err := u.settlements.Decide(ctx, requestID, reviewer, outcome, reason)
		out = r
		return err
	})
	return out, err
}

// --- Pool ---

// FundPool adds treasury liquidity to a pool wallet. Admin only.
func (e *Engine) FundPool(ctx context.Context, actor auth.Principal, asset ledger.Asset, amount decimal.Decimal) (*ledger.PoolWallet, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := ledger.ValidateAmount(asset, amount); err != nil {
		return nil, err
	}

	var out *ledger.PoolWallet
	err := e.run(ctx, "FundPool", func(ctx context.Context, u *unit) error {
		pool, err := u.pool.Fund(ctx, asset, amount)
		if err != nil {
			return err
		}
		u.emit(&event.PoolFunded{
			Asset:       string(asset),
			Amount:      amount,
			Balance:     pool.Balance,
			FundedBy:    actor.AccountID,
			ReferenceID: u.batch.BatchID,
		})
		out = pool
		return nil
	})
	return out, err
}

// --- Raw reservations ---

// ReserveOrderFunds locks amount for an external order system.
func (e *Engine) ReserveOrderFunds(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal) (*ledger.Reservation, error) {
	if err := ledger.ValidateAmount(asset, amount); err != nil {
		return nil, err
	}

	var out *ledger.Reservation
	err := e.run(ctx, "ReserveOrderFunds", func(ctx context.Context, u *unit) error {
		r, err := u.reservations.Reserve(ctx, accountID, asset, amount, ledger.PurposeOrder, nil)
		out = r
		return err
	})
	return out, err
}

// ReleaseOrderFunds releases a reservation created by ReserveOrderFunds.
// Reservations owned by an order or a bot position are released through
// their owner instead.
func (e *Engine) ReleaseOrderFunds(ctx context.Context, actor auth.Principal, reservationID uuid.UUID) (*ledger.Reservation, error) {
	var out *ledger.Reservation
	err := e.run(ctx, "ReleaseOrderFunds", func(ctx context.Context, u *unit) error {
		r, err := u.tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !actor.Owns(r.AccountID) {
			return ledger.Unauthorizedf("reservation %s belongs to another account", reservationID)
		}
		if r.Purpose != ledger.PurposeOrder || r.ReferenceID != nil {
			if r.Status != ledger.ReservationActive {
				return ledger.AlreadyProcessedf("reservation %s is %s", r.ID, r.Status)
			}
			return ledger.InvalidStatef("reservation %s is held by %s %s", r.ID, r.Purpose, refString(r.ReferenceID))
		}

		out, err = u.reservations.Release(ctx, reservationID)
		return err
	})
	return out, err
}

// --- Bot positions ---

// ActivateBotPosition funds a bot from a single wallet among the configured funding assets.
func (e *Engine) ActivateBotPosition(ctx context.Context, accountID uuid.UUID, botID string, amount decimal.Decimal) (*ledger.BotPosition, error) {
	var out *ledger.BotPosition
	err := e.run(ctx, "ActivateBotPosition", func(ctx context.Context, u *unit) error {
		p, err := u.bots.Activate(ctx, accountID, botID, amount)
		out = p
		return err
	})
	return out, err
}

func (e *Engine) ApplyBotProfit(ctx context.Context, positionID uuid.UUID, delta decimal.Decimal) (*ledger.BotPosition, error) {
	var out *ledger.BotPosition
	err := e.run(ctx, "ApplyBotProfit", func(ctx context.Context, u *unit) error {
		p, err := u.bots.ApplyProfit(ctx, positionID, delta)
		out = p
		return err
	})
	return out, err
}

// BotSettlement is the result of stopping a bot position.
type BotSettlement struct {
	Position      *ledger.BotPosition
	SettledAmount decimal.Decimal
}

func (e *Engine) StopBotPosition(ctx context.Context, actor auth.Principal, positionID uuid.UUID) (*BotSettlement, error) {
	var out *BotSettlement
	err := e.run(ctx, "StopBotPosition", func(ctx context.Context, u *unit) error {
		p, settled, err := u.bots.Stop(ctx, actor, positionID)
		if err != nil {
			return err
		}
		out = &BotSettlement{Position: p, SettledAmount: settled}
		return nil
	})
	return out, err
}

// --- Orders ---

// PlaceOrder validates req and reserves its quote or base funds.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (*ledger.Order, error) {
	var out *ledger.Order
	err := e.run(ctx, "PlaceOrder", func(ctx context.Context, u *unit) error {
		o, err := u.orders.Place(ctx, req)
		out = o
		return err
	})
	return out, err
}

func (e *Engine) CancelOrder(ctx context.Context, actor auth.Principal, orderID uuid.UUID) (*ledger.Order, error) {
	var out *ledger.Order
	err := e.run(ctx, "CancelOrder", func(ctx context.Context, u *unit) error {
		o, err := u.orders.Cancel(ctx, actor, orderID)
		out = o
		return err
	})
	return out, err
}

func (e *Engine) ModifyOrder(ctx context.Context, actor auth.Principal, orderID uuid.UUID, change OrderChange) (*ledger.Order, error) {
	var out *ledger.Order
	err := e.run(ctx, "ModifyOrder", func(ctx context.Context, u *unit) error {
		o, err := u.orders.Modify(ctx, actor, orderID, change)
		out = o
		return err
	})
	return out, err
}

func (e *Engine) FillOrder(ctx context.Context, orderID uuid.UUID, qty, price decimal.Decimal) (*ledger.Order, error) {
	var out *ledger.Order
	err := e.run(ctx, "FillOrder", func(ctx context.Context, u *unit) error {
		o, err := u.orders.Fill(ctx, orderID, qty, price)
		out = o
		return err
	})
	return out, err
}

// --- Inbound reports ---

// ReportKey is the processed-message key of an inbound report.
func ReportKey(r event.Report) string {
	return fmt.Sprintf("%s:%s", r.EventType(), r.IdempotencyKey())
}

// ApplyReport applies an executor report at most once. The report key is
// recorded in the same unit of work as its effects; a replay fails with
// ErrAlreadyProcessed.
func (e *Engine) ApplyReport(ctx context.Context, report event.Report) error {
	op := report.EventType().String()
	return e.run(ctx, op, func(ctx context.Context, u *unit) error {
		if err := u.tx.MarkProcessed(ctx, ReportKey(report)); err != nil {
			return err
		}

		switch r := report.(type) {
		case *event.BotProfitReported:
			_, err := u.bots.ApplyProfit(ctx, r.PositionID, r.Delta)
			return err
		case *event.OrderFillReported:
			_, err := u.orders.Fill(ctx, r.OrderID, r.Quantity, r.Price)
			return err
		}
		return ledger.Validationf("unsupported report %s", op)
	})
}

// run executes fn in a unit of work, retrying lost updates.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, u *unit) error) error {
	start := time.Now()

	var committed *unit
	var err error
	for attempt := 0; ; attempt++ {
		committed = nil
		err = e.store.WithTx(ctx, func(tx store.Tx) error {
			u := newUnit(tx, op, e.clock(), e.cfg)
			if err := fn(ctx, u); err != nil {
				return err
			}
			if err := u.flush(ctx); err != nil {
				return err
			}
			committed = u
			return nil
		})

		if err == nil || !ledger.Retryable(err) || attempt >= e.cfg.MaxConflictRetries || ctx.Err() != nil {
			break
		}
		if e.metrics != nil {
			e.metrics.ConflictRetries.WithLabelValues(op).Inc()
		}
		e.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retrying after conflict")
	}

	e.record(op, start, err)
	if err != nil {
		return err
	}

	e.afterCommit(committed)
	return nil
}

func (e *Engine) record(op string, start time.Time, err error) {
	result := "OK"
	if err != nil {
		result = ledger.Code(err)
	}
	if e.metrics != nil {
		e.metrics.OperationsTotal.WithLabelValues(op, result).Inc()
		e.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}

	switch result {
	case "OK":
		e.logger.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("committed")
	case ledger.CodeInternal, ledger.CodeConflict:
		e.logger.Error().Err(err).Str("op", op).Msg("operation failed")
	default:
		e.logger.Debug().Err(err).Str("op", op).Str("code", result).Msg("operation rejected")
	}
}

func (e *Engine) afterCommit(u *unit) {
	if e.metrics != nil {
		for _, j := range u.batch.Journals {
			e.metrics.JournalEntries.WithLabelValues(j.JournalType.String()).Inc()
		}
		for asset, balance := range u.pool.touched {
			e.metrics.PoolBalance.WithLabelValues(string(asset)).Set(balance.InexactFloat64())
		}
	}

	for _, evt := range u.events {
		e.observe(evt)
		if e.notifier != nil {
			e.notifier.Notify(evt)
		}
	}
}

func (e *Engine) observe(evt event.Event) {
	if e.metrics == nil {
		return
	}
	switch v := evt.(type) {
	case *event.SettlementEvent:
		e.metrics.SettlementTransitions.WithLabelValues(v.Kind, v.Status).Inc()
	case *event.ReservationEvent:
		e.metrics.ReservationTransitions.WithLabelValues(v.Purpose, v.Status).Inc()
	case *event.BotEvent:
		e.metrics.BotTransitions.WithLabelValues(v.Type.String()).Inc()
	case *event.OrderEvent:
		e.metrics.OrderTransitions.WithLabelValues(v.Type.String()).Inc()
	}
}

func refString(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}
