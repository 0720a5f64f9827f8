package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes executor reports from JetStream and hands them
// to the Processor through eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an undecoded report plus the callbacks that settle its
// delivery.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	Attempt   uint64 // 1 on first delivery
	AckFunc   func() // processed, or permanently rejected
	NakFunc   func() // redeliver later
	TermFunc  func() // never redeliver
}

// SubjectConfig maps a NATS subject to a report type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	BotsStreamName   = "CUSTODY_BOTS"
	OrdersStreamName = "CUSTODY_ORDERS"

	// Inbound consumer policy.
	reportAckWait    = 30 * time.Second
	reportMaxDeliver = 5
	reportMaxAge     = 72 * time.Hour
)

// reportStreams lists the inbound streams and the subject space each owns.
var reportStreams = map[string]string{
	BotsStreamName:   "custody.bots.>",
	OrdersStreamName: "custody.orders.>",
}

// DefaultSubjects returns the report subjects the ledger consumes.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "custody.bots.profit.>", EventType: "BotProfitReported", ConsumerName: "ledger-bot-profit", StreamName: BotsStreamName},
		{Subject: "custody.orders.fills.>", EventType: "OrderFillReported", ConsumerName: "ledger-order-fills", StreamName: OrdersStreamName},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates one durable explicit-ack consumer per subject. On error
// the consumers already started keep running; call Stop.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cc, err := ns.consume(ctx, cfg)
		if err != nil {
			return err
		}
		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

func (ns *NATSSubscriber) consume(ctx context.Context, cfg SubjectConfig) (jetstream.ConsumeContext, error) {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       reportAckWait,
		MaxDeliver:    reportMaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ns.forward(ctx, cfg.EventType, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
	}
	return cc, nil
}

// forward wraps msg as a RawEvent. If the ledger is shutting down the
// message is handed back to the server for redelivery.
func (ns *NATSSubscriber) forward(ctx context.Context, eventType string, msg jetstream.Msg) {
	raw := RawEvent{
		Subject:   msg.Subject(),
		EventType: eventType,
		Data:      msg.Data(),
		Timestamp: time.Now(),
		Attempt:   1,
		AckFunc:   func() { _ = msg.Ack() },
		NakFunc:   func() { _ = msg.Nak() },
		TermFunc:  func() { _ = msg.Term() },
	}
	if md, err := msg.Metadata(); err == nil {
		raw.Attempt = md.NumDelivered
		raw.Timestamp = md.Timestamp
	}

	select {
	case ns.eventChan <- raw:
	case <-ctx.Done():
		_ = msg.Nak()
	}
}

// EnsureStreams creates the inbound report streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for name, subjects := range reportStreams {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{subjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    reportMaxAge,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", name, err)
		}
		logger.Info().Str("stream", name).Str("subjects", subjects).Msg("ensured stream")
	}
	return nil
}

// Stop drains every consumer.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.consumers = nil
	ns.logger.Info().Msg("report consumers stopped")
}

// ConnectNATS dials NATS with unlimited reconnects and opens JetStream.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("custodyledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
