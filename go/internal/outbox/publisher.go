package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/timer/events"
)

const (
	StreamName    = "ROS_EVENTS"
	SubjectPrefix = "ros.events"

	natsMaxReconnects = -1 // keep trying forever
	natsReconnectWait = 2 * time.Second
)

// Publisher delivers outbox rows somewhere. The relay retries through this
// interface; implementations must be safe for repeated delivery of the same
// row.
type Publisher interface {
	Publish(ctx context.Context, row Row) error
}

// SetupNATS connects and returns a JetStream context with reconnect handling.
func SetupNATS(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NATSPublisher publishes envelopes to JetStream, one subject per event so
// consumers can filter on the shows they care about.
type NATSPublisher struct {
	js jetstream.JetStream
}

// NewNATSPublisher ensures the stream exists and returns the publisher.
func NewNATSPublisher(ctx context.Context, js jetstream.JetStream) (*NATSPublisher, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return &NATSPublisher{js: js}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, row Row) error {
	envelope := events.Envelope{
		ID:        row.ID.String(),
		Type:      row.EventType,
		EventID:   row.EventID.String(),
		Timestamp: row.CreatedAt,
		Payload:   row.Payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, row.EventID)
	// Outbox row id doubles as the JetStream dedup id, so a redelivered row
	// is dropped by the server instead of reaching clients twice.
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(row.ID.String())); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("type", row.EventType).
		Msg("published outbox event")
	return nil
}
