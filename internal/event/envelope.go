package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Settlement workflow
	EventTypeSettlementCreated
	EventTypeSettlementConfirmed
	EventTypeSettlementCompleted
	EventTypeSettlementFailed

	// Fund reservations
	EventTypeFundsReserved
	EventTypeFundsReleased
	EventTypeFundsConsumed

	// Bot positions
	EventTypeBotActivated
	EventTypeBotProfitApplied
	EventTypeBotStopped

	// Orders
	EventTypeOrderPlaced
	EventTypeOrderModified
	EventTypeOrderCancelled
	EventTypeOrderFilled

	// Pool
	EventTypePoolFunded

	// Inbound reports from external executors
	EventTypeBotProfitReported
	EventTypeOrderFillReported
)

var eventTypeNames = map[EventType]string{
	EventTypeSettlementCreated:   "SettlementCreated",
	EventTypeSettlementConfirmed: "SettlementConfirmed",
	EventTypeSettlementCompleted: "SettlementCompleted",
	EventTypeSettlementFailed:    "SettlementFailed",
	EventTypeFundsReserved:       "FundsReserved",
	EventTypeFundsReleased:       "FundsReleased",
	EventTypeFundsConsumed:       "FundsConsumed",
	EventTypeBotActivated:        "BotActivated",
	EventTypeBotProfitApplied:    "BotProfitApplied",
	EventTypeBotStopped:          "BotStopped",
	EventTypeOrderPlaced:         "OrderPlaced",
	EventTypeOrderModified:       "OrderModified",
	EventTypeOrderCancelled:      "OrderCancelled",
	EventTypeOrderFilled:         "OrderFilled",
	EventTypePoolFunded:          "PoolFunded",
	EventTypeBotProfitReported:   "BotProfitReported",
	EventTypeOrderFillReported:   "OrderFillReported",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) EventType {
	for k, v := range eventTypeNames {
		if v == name {
			return k
		}
	}
	return EventTypeUnknown
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// AggregateID identifies the request, reservation, position or order
	AggregateID() uuid.UUID

	// AccountID returns the owning account (uuid.Nil for system events)
	AccountID() uuid.UUID
}

// Envelope is the audit record of one committed state transition. It is
// written to the outbox in the same unit of work as the transition.
type Envelope struct {
	// Assigned by the store on append
	Sequence int64 `json:"sequence"`

	EventID     uuid.UUID       `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	AccountID   uuid.UUID       `json:"account_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope encodes evt for the outbox.
func NewEnvelope(evt Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return Envelope{
		EventID:     uuid.New(),
		EventType:   evt.EventType().String(),
		AggregateID: evt.AggregateID(),
		AccountID:   evt.AccountID(),
		OccurredAt:  now.UTC(),
		Payload:     payload,
	}, nil
}

// Subject builds the routing subject: {prefix}.{event_type}
func (e Envelope) Subject(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, e.EventType)
}
