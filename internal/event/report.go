package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Report is an inbound message from an external executor (bot runner,
// order router). Reports are applied at most once per IdempotencyKey.
type Report interface {
	Event
	IdempotencyKey() string
}

// BotProfitReported carries an unrealized profit delta for a bot position.
type BotProfitReported struct {
	ReportID   uuid.UUID       `json:"report_id"`
	PositionID uuid.UUID       `json:"position_id"`
	Delta      decimal.Decimal `json:"delta"`
	ReportedAt time.Time       `json:"reported_at"`
}

func (r *BotProfitReported) EventType() EventType   { return EventTypeBotProfitReported }
func (r *BotProfitReported) AggregateID() uuid.UUID { return r.PositionID }
func (r *BotProfitReported) AccountID() uuid.UUID   { return uuid.Nil }
func (r *BotProfitReported) IdempotencyKey() string { return r.ReportID.String() }

// OrderFillReported carries an execution against a resting order.
type OrderFillReported struct {
	FillID     uuid.UUID       `json:"fill_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ReportedAt time.Time       `json:"reported_at"`
}

func (r *OrderFillReported) EventType() EventType   { return EventTypeOrderFillReported }
func (r *OrderFillReported) AggregateID() uuid.UUID { return r.OrderID }
func (r *OrderFillReported) AccountID() uuid.UUID   { return uuid.Nil }
func (r *OrderFillReported) IdempotencyKey() string { return r.FillID.String() }
