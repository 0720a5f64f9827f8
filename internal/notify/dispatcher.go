package notify

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/observability"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notification is the user-facing form of a committed state change.
type Notification struct {
	EventType   string          `json:"event_type"`
	AccountID   uuid.UUID       `json:"account_id"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// Sink delivers notifications somewhere users can see them.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher fans committed events out to sinks off the request path.
// Notify never blocks: when the queue is full the notification is dropped.
// Notifications are best effort; the outbox is the durable record.
type Dispatcher struct {
	queue   chan Notification
	sinks   []Sink
	metrics *observability.Metrics
	logger  zerolog.Logger
	clock   func() time.Time
}

func NewDispatcher(buffer int, metrics *observability.Metrics, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		queue:   make(chan Notification, buffer),
		sinks:   sinks,
		metrics: metrics,
		logger:  logger.With().Str("component", "notify").Logger(),
		clock:   time.Now,
	}
}

// Notify implements core.Notifier.
func (d *Dispatcher) Notify(evt event.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		d.logger.Warn().Err(err).Str("event_type", evt.EventType().String()).Msg("notification marshal failed")
		return
	}
	n := Notification{
		EventType:   evt.EventType().String(),
		AccountID:   evt.AccountID(),
		AggregateID: evt.AggregateID(),
		OccurredAt:  d.clock().UTC(),
		Data:        data,
	}

	select {
	case d.queue <- n:
	default:
		if d.metrics != nil {
			d.metrics.NotificationDrops.Inc()
		}
		d.logger.Warn().Str("event_type", n.EventType).Msg("notification queue full, dropping")
	}
}

// Run delivers queued notifications until ctx is cancelled, then drains
// what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, n); err != nil {
			if d.metrics != nil {
				d.metrics.NotificationFailures.Inc()
			}
			d.logger.Warn().Err(err).Str("event_type", n.EventType).Msg("notification delivery failed")
			continue
		}
		if d.metrics != nil {
			d.metrics.NotificationsSent.Inc()
		}
	}
}
