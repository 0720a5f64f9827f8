package core

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"fmt"
	"time"
)

// unit is one attempt at one external operation. It wires the components
// to the same transaction, journal batch and event buffer; flush writes
// the journal and the outbox before the transaction commits.
type unit struct {
	tx     store.Tx
	now    time.Time
	batch  *ledger.Batch
	events []event.Event

	balances     *BalanceStore
	pool         *PoolLedger
	reservations *ReservationManager
	settlements  *SettlementWorkflow
	bots         *BotLedger
	orders       *OrderDesk
}

func newUnit(tx store.Tx, op string, now time.Time, cfg Config) *unit {
	u := &unit{
		tx:    tx,
		now:   now,
		batch: ledger.NewBatch(op, now),
	}
	u.balances = NewBalanceStore(tx, u.batch, now)
	u.pool = NewPoolLedger(tx, u.batch, now)
	u.reservations = NewReservationManager(tx, u.balances, now, u.emit)
	u.settlements = NewSettlementWorkflow(tx, u.balances, u.pool, now, u.emit)
	u.bots = NewBotLedger(tx, u.balances, u.reservations, cfg.BotFundingAssets, now, u.emit)
	u.orders = NewOrderDesk(tx, u.balances, u.reservations, now, u.emit)
	return u
}

func (u *unit) emit(evt event.Event) {
	u.events = append(u.events, evt)
}

func (u *unit) flush(ctx context.Context) error {
	if !u.batch.Empty() {
		if err := u.tx.AppendJournal(ctx, u.batch); err != nil {
			return fmt.Errorf("append journal: %w", err)
		}
	}
	for _, evt := range u.events {
		env, err := event.NewEnvelope(evt, u.now)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
		}
		if err := u.tx.AppendOutbox(ctx, env); err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}
	}
	return nil
}
