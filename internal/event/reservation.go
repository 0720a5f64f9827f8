package event

import (
	"CustodyLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationEvent records a reserve, release or consume.
type ReservationEvent struct {
	Type          EventType        `json:"-"`
	ReservationID uuid.UUID        `json:"reservation_id"`
	Account       uuid.UUID        `json:"account_id"`
	Asset         string           `json:"asset"`
	Amount        decimal.Decimal  `json:"amount"`
	Purpose       string           `json:"purpose"`
	ReferenceID   *uuid.UUID       `json:"reference_id,omitempty"`
	Status        string           `json:"status"`
	SettleAmount  *decimal.Decimal `json:"settle_amount,omitempty"` // consume only
}

func NewReservationEvent(t EventType, r *ledger.Reservation) *ReservationEvent {
	return &ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		Account:       r.AccountID,
		Asset:         string(r.Asset),
		Amount:        r.Amount,
		Purpose:       string(r.Purpose),
		ReferenceID:   r.ReferenceID,
		Status:        string(r.Status),
	}
}

func (e *ReservationEvent) EventType() EventType   { return e.Type }
func (e *ReservationEvent) AggregateID() uuid.UUID { return e.ReservationID }
func (e *ReservationEvent) AccountID() uuid.UUID   { return e.Account }

// BotEvent records a bot position transition.
type BotEvent struct {
	Type           EventType        `json:"-"`
	PositionID     uuid.UUID        `json:"position_id"`
	Account        uuid.UUID        `json:"account_id"`
	BotID          string           `json:"bot_id"`
	Asset          string           `json:"asset"`
	InvestedAmount decimal.Decimal  `json:"invested_amount"`
	CurrentValue   decimal.Decimal  `json:"current_value"`
	TotalProfit    decimal.Decimal  `json:"total_profit"`
	Status         string           `json:"status"`
	Delta          *decimal.Decimal `json:"delta,omitempty"`
}

func NewBotEvent(t EventType, p *ledger.BotPosition) *BotEvent {
	return &BotEvent{
		Type:           t,
		PositionID:     p.ID,
		Account:        p.AccountID,
		BotID:          p.BotID,
		Asset:          string(p.Asset),
		InvestedAmount: p.InvestedAmount,
		CurrentValue:   p.CurrentValue,
		TotalProfit:    p.TotalProfit,
		Status:         string(p.Status),
	}
}

func (e *BotEvent) EventType() EventType   { return e.Type }
func (e *BotEvent) AggregateID() uuid.UUID { return e.PositionID }
func (e *BotEvent) AccountID() uuid.UUID   { return e.Account }

// OrderEvent records an order transition.
type OrderEvent struct {
	Type          EventType        `json:"-"`
	OrderID       uuid.UUID        `json:"order_id"`
	Account       uuid.UUID        `json:"account_id"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	OrderType     string           `json:"order_type"`
	Price         decimal.Decimal  `json:"price"`
	Amount        decimal.Decimal  `json:"amount"`
	FilledAmount  decimal.Decimal  `json:"filled_amount"`
	Status        string           `json:"status"`
	ReservationID *uuid.UUID       `json:"reservation_id,omitempty"`
	FillQuantity  *decimal.Decimal `json:"fill_quantity,omitempty"`
	FillPrice     *decimal.Decimal `json:"fill_price,omitempty"`
}

func NewOrderEvent(t EventType, o *ledger.Order) *OrderEvent {
	return &OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		Account:       o.AccountID,
		Symbol:        o.Pair.String(),
		Side:          string(o.Side),
		OrderType:     string(o.Type),
		Price:         o.Price,
		Amount:        o.Amount,
		FilledAmount:  o.FilledAmount,
		Status:        string(o.Status),
		ReservationID: o.ReservationID,
	}
}

func (e *OrderEvent) EventType() EventType   { return e.Type }
func (e *OrderEvent) AggregateID() uuid.UUID { return e.OrderID }
func (e *OrderEvent) AccountID() uuid.UUID   { return e.Account }
