package core

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationManager turns lock/unlock into closable reservations. Each
// reservation owns exactly its Amount of the wallet's locked balance and
// is closed exactly once: by Release (funds back to available) or by
// Consume (funds leave the wallet, optionally with a settlement credit).
type ReservationManager struct {
	tx       store.Tx
	balances *BalanceStore
	now      time.Time
	emit     func(event.Event)
}

func NewReservationManager(tx store.Tx, balances *BalanceStore, now time.Time, emit func(event.Event)) *ReservationManager {
	return &ReservationManager{tx: tx, balances: balances, now: now, emit: emit}
}

// Reserve locks amount on the wallet and records the reservation.
func (m *ReservationManager) Reserve(ctx context.Context, accountID uuid.UUID, asset ledger.Asset, amount decimal.Decimal,
	purpose ledger.ReservationPurpose, ref *uuid.UUID) (*ledger.Reservation, error) {
	if !asset.Supported() {
		return nil, ledger.Validationf("unsupported asset %q", asset)
	}
	if !amount.IsPositive() {
		return nil, ledger.Validationf("reservation amount must be positive, got %s", amount.String())
	}

	if err := m.balances.Lock(ctx, accountID, asset, amount); err != nil {
		return nil, err
	}

	r := ledger.NewReservation(accountID, asset, amount, purpose, ref, m.now)
	if err := m.tx.InsertReservation(ctx, r); err != nil {
		return nil, err
	}

	m.emit(event.NewReservationEvent(event.EventTypeFundsReserved, r))
	return r, nil
}

// Release returns the reserved funds to available. A reservation that is
// already closed fails with ErrAlreadyProcessed and nothing moves.
func (m *ReservationManager) Release(ctx context.Context, id uuid.UUID) (*ledger.Reservation, error) {
	r, err := m.tx.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Close(ledger.ReservationReleased, m.now); err != nil {
		return nil, err
	}

	if err := m.balances.Unlock(ctx, r.AccountID, r.Asset, r.Amount); err != nil {
		return nil, err
	}
	if err := m.tx.TransitionReservation(ctx, r, ledger.ReservationActive); err != nil {
		return nil, err
	}

	m.emit(event.NewReservationEvent(event.EventTypeFundsReleased, r))
	return r, nil
}

// Consume spends the reserved funds: the full Amount is unlocked and
// debited to the counterparty, then settle (zero allowed) is credited back
// from it. settle above Amount is a gain, settle below it a loss.
func (m *ReservationManager) Consume(ctx context.Context, id uuid.UUID, settle decimal.Decimal) (*ledger.Reservation, error) {
	if settle.IsNegative() {
		return nil, ledger.Validationf("settlement amount must not be negative, got %s", settle.String())
	}

	r, err := m.tx.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Close(ledger.ReservationConsumed, m.now); err != nil {
		return nil, err
	}

	counterparty := counterpartyFor(r.Purpose, r.Asset)
	if err := m.balances.Unlock(ctx, r.AccountID, r.Asset, r.Amount); err != nil {
		return nil, err
	}
	if err := m.balances.Debit(ctx, r.AccountID, r.Asset, r.Amount, counterparty, ledger.JournalTypeReservationConsume); err != nil {
		return nil, err
	}
	if settle.IsPositive() {
		if err := m.balances.Credit(ctx, r.AccountID, r.Asset, settle, counterparty, ledger.JournalTypeReservationSettle); err != nil {
			return nil, err
		}
	}
	if err := m.tx.TransitionReservation(ctx, r, ledger.ReservationActive); err != nil {
		return nil, err
	}

	evt := event.NewReservationEvent(event.EventTypeFundsConsumed, r)
	evt.SettleAmount = &settle
	m.emit(evt)
	return r, nil
}

// counterpartyFor names the external account consumed funds flow to.
func counterpartyFor(purpose ledger.ReservationPurpose, asset ledger.Asset) ledger.AccountKey {
	switch purpose {
	case ledger.PurposeBot:
		return ledger.NewExternalAccountKey(ledger.SubTypeBotPnL, asset)
	case ledger.PurposeOrder:
		return ledger.NewExternalAccountKey(ledger.SubTypeMarket, asset)
	default:
		return ledger.NewExternalAccountKey(ledger.SubTypeTreasury, asset)
	}
}
