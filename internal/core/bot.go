package core

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BotLedger tracks invested capital of trading bots. Each position is
// backed by one BOT reservation on the wallet that funded it.
type BotLedger struct {
	tx            store.Tx
	balances      *BalanceStore
	reservations  *ReservationManager
	fundingAssets []ledger.Asset
	now           time.Time
	emit          func(event.Event)
}

func NewBotLedger(tx store.Tx, balances *BalanceStore, reservations *ReservationManager,
	fundingAssets []ledger.Asset, now time.Time, emit func(event.Event)) *BotLedger {
	return &BotLedger{
		tx:            tx,
		balances:      balances,
		reservations:  reservations,
		fundingAssets: fundingAssets,
		now:           now,
		emit:          emit,
	}
}

// Activate funds a new position from the first configured asset that
// covers amount on its own.
func (b *BotLedger) Activate(ctx context.Context, accountID uuid.UUID, botID string, amount decimal.Decimal) (*ledger.BotPosition, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return nil, ledger.Validationf("bot id is required")
	}
	if !amount.IsPositive() {
		return nil, ledger.Validationf("investment must be positive, got %s", amount.String())
	}

	candidates := make([]ledger.FundingCandidate, 0, len(b.fundingAssets))
	for _, asset := range b.fundingAssets {
		available, err := b.balances.Available(ctx, accountID, asset)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, ledger.FundingCandidate{Asset: asset, Available: available})
	}

	asset, err := ledger.PickFundingAsset(candidates, amount)
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			insufficient.AccountID = accountID
		}
		return nil, err
	}
	if err := ledger.ValidateAmount(asset, amount); err != nil {
		return nil, err
	}

	positionID := uuid.New()
	r, err := b.reservations.Reserve(ctx, accountID, asset, amount, ledger.PurposeBot, &positionID)
	if err != nil {
		return nil, err
	}

	p := &ledger.BotPosition{
		ID:             positionID,
		AccountID:      accountID,
		BotID:          botID,
		Asset:          asset,
		ReservationID:  r.ID,
		InvestedAmount: amount,
		CurrentValue:   amount,
		TotalProfit:    decimal.Zero,
		Status:         ledger.BotActive,
		CreatedAt:      b.now,
	}
	if err := b.tx.InsertBotPosition(ctx, p); err != nil {
		return nil, err
	}

	b.emit(event.NewBotEvent(event.EventTypeBotActivated, p))
	return p, nil
}

// ApplyProfit records an unrealized gain or loss. Wallets do not move
// until the position is stopped.
func (b *BotLedger) ApplyProfit(ctx context.Context, positionID uuid.UUID, delta decimal.Decimal) (*ledger.BotPosition, error) {
	p, err := b.tx.GetBotPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if err := p.ApplyProfit(delta); err != nil {
		return nil, err
	}
	if err := b.tx.UpdateBotPosition(ctx, p); err != nil {
		return nil, err
	}

	evt := event.NewBotEvent(event.EventTypeBotProfitApplied, p)
	evt.Delta = &delta
	b.emit(evt)
	return p, nil
}

// Stop settles the position at its current value and returns that amount.
func (b *BotLedger) Stop(ctx context.Context, actor auth.Principal, positionID uuid.UUID) (*ledger.BotPosition, decimal.Decimal, error) {
	p, err := b.tx.GetBotPosition(ctx, positionID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if !actor.Owns(p.AccountID) && !actor.IsAdmin() {
		return nil, decimal.Zero, ledger.Unauthorizedf("bot position %s belongs to another account", positionID)
	}
	if err := p.Stop(b.now); err != nil {
		return nil, decimal.Zero, err
	}

	settled := p.CurrentValue
	if _, err := b.reservations.Consume(ctx, p.ReservationID, settled); err != nil {
		return nil, decimal.Zero, err
	}
	if err := b.tx.UpdateBotPosition(ctx, p); err != nil {
		return nil, decimal.Zero, err
	}

	b.emit(event.NewBotEvent(event.EventTypeBotStopped, p))
	return p, settled, nil
}
