package event

import (
	"CustodyLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementEvent records one transition of a settlement request.
type SettlementEvent struct {
	Type            EventType       `json:"-"`
	RequestID       uuid.UUID       `json:"request_id"`
	Account         uuid.UUID       `json:"account_id"`
	Kind            string          `json:"kind"`
	Asset           string          `json:"asset"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	ReviewerID      *uuid.UUID      `json:"reviewer_id,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
}

func NewSettlementEvent(t EventType, r *ledger.SettlementRequest) *SettlementEvent {
	return &SettlementEvent{
		Type:            t,
		RequestID:       r.ID,
		Account:         r.AccountID,
		Kind:            string(r.Kind),
		Asset:           string(r.Asset),
		Amount:          r.Amount,
		Status:          string(r.Status),
		ReviewerID:      r.ReviewerID,
		RejectionReason: r.RejectionReason,
	}
}

func (e *SettlementEvent) EventType() EventType   { return e.Type }
func (e *SettlementEvent) AggregateID() uuid.UUID { return e.RequestID }
func (e *SettlementEvent) AccountID() uuid.UUID   { return e.Account }

// PoolFunded records a treasury top-up of a pool wallet.
type PoolFunded struct {
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	FundedBy    uuid.UUID       `json:"funded_by"`
	ReferenceID uuid.UUID       `json:"reference_id"`
}

func (e *PoolFunded) EventType() EventType   { return EventTypePoolFunded }
func (e *PoolFunded) AggregateID() uuid.UUID { return e.ReferenceID }
func (e *PoolFunded) AccountID() uuid.UUID   { return uuid.Nil }
