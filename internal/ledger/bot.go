package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BotStatus string

const (
	BotActive  BotStatus = "ACTIVE"
	BotStopped BotStatus = "STOPPED"
)

// BotPosition is an invested-amount/current-value pair backed by one
// reservation on the funding wallet.
type BotPosition struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	BotID          string
	Asset          Asset
	ReservationID  uuid.UUID
	InvestedAmount decimal.Decimal
	CurrentValue   decimal.Decimal
	TotalProfit    decimal.Decimal
	Status         BotStatus
	Version        int64
	CreatedAt      time.Time
	StoppedAt      *time.Time
}

// ApplyProfit adjusts the unrealized value. delta may be negative but the
// value may not fall below zero.
func (p *BotPosition) ApplyProfit(delta decimal.Decimal) error {
	if p.Status != BotActive {
		return NotFoundf("no active bot position %s", p.ID)
	}
	if err := ValidatePrecision(p.Asset, delta); err != nil {
		return err
	}
	next := p.CurrentValue.Add(delta)
	if next.IsNegative() {
		return Validationf("profit %s would make position value negative (%s)", delta.String(), next.String())
	}
	p.CurrentValue = next
	p.TotalProfit = p.TotalProfit.Add(delta)
	return nil
}

func (p *BotPosition) Stop(now time.Time) error {
	if p.Status != BotActive {
		return AlreadyProcessedf("bot position %s is %s", p.ID, p.Status)
	}
	p.Status = BotStopped
	p.StoppedAt = &now
	return nil
}

func (p *BotPosition) Clone() *BotPosition {
	c := *p
	if p.StoppedAt != nil {
		v := *p.StoppedAt
		c.StoppedAt = &v
	}
	return &c
}

// FundingCandidate is one wallet eligible to fund a bot.
type FundingCandidate struct {
	Asset     Asset
	Available decimal.Decimal
}

// PickFundingAsset returns the first candidate, in the given preference
// order, whose available balance covers required. Balances are never
// combined across assets.
func PickFundingAsset(candidates []FundingCandidate, required decimal.Decimal) (Asset, error) {
	if !required.IsPositive() {
		return "", Validationf("required amount must be positive, got %s", required.String())
	}
	if len(candidates) == 0 {
		return "", Validationf("no funding assets configured")
	}
	for _, c := range candidates {
		if c.Available.GreaterThanOrEqual(required) {
			return c.Asset, nil
		}
	}

	shortfall := &InsufficientFundsError{
		Required:  required,
		Available: make(map[Asset]decimal.Decimal, len(candidates)),
	}
	for _, c := range candidates {
		shortfall.Available[c.Asset] = c.Available
	}
	return "", shortfall
}
