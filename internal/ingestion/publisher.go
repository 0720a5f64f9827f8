package ingestion

import (
	"CustodyLedger/internal/event"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// OutboundSubjectPrefix prefixes every audit event subject:
	// custody.ledger.events.{event_type}
	OutboundSubjectPrefix = "custody.ledger.events"
	OutboundStreamName    = "CUSTODY_LEDGER_EVENTS"
)

// NATSPublisher publishes outbox envelopes to JetStream. The event id is
// sent as the message id so the stream drops relay retries.
type NATSPublisher struct {
	js jetstream.JetStream
}

func NewNATSPublisher(js jetstream.JetStream) *NATSPublisher {
	return &NATSPublisher{js: js}
}

func (p *NATSPublisher) Publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = p.js.Publish(ctx, env.Subject(OutboundSubjectPrefix), data,
		jetstream.WithMsgID(env.EventID.String()))
	return err
}

// EnsureOutboundStream creates the audit events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStreamName,
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     30 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStreamName).Msg("ensured outbound stream")
	return nil
}
