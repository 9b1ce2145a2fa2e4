// Package outbox delivers notification intents written by the ledger
// workflows. Delivery is at least once; consumers dedupe on the event id.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/punchamoorthee/commissionledger/internal/config"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, e domain.OutboxEvent) error
	Close() error
}

// NewPublisher builds the publisher named by cfg.Publisher.
func NewPublisher(cfg config.OutboxConfig, log zerolog.Logger) (Publisher, error) {
	switch cfg.Publisher {
	case "", "log":
		return NewLogPublisher(log), nil
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicPrefix)
	case "nats":
		return NewNATSPublisher(cfg.NATSURL, cfg.TopicPrefix, log)
	}
	return nil, fmt.Errorf("unknown outbox publisher %q", cfg.Publisher)
}

// subject maps an event kind to a topic or subject name.
func subject(prefix, kind string) string {
	if prefix == "" {
		return kind
	}
	return strings.TrimSuffix(prefix, ".") + "." + kind
}

type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "outbox_log_publisher").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e domain.OutboxEvent) error {
	p.log.Info().
		Str("event_id", e.ID).
		Str("kind", e.Kind).
		Str("user_id", e.UserID).
		RawJSON("payload", e.Payload).
		Msg("notification")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// KafkaPublisher writes one message per event, keyed by user so a user's
// notifications stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
}

func NewKafkaPublisher(brokers []string, topicPrefix string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		prefix: topicPrefix,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e domain.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: subject(p.prefix, e.Kind),
		Key:   []byte(e.UserID),
		Value: e.Payload,
		Time:  e.CreatedAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, subjectPrefix string, log zerolog.Logger) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("commission-ledger-outbox"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: nc, prefix: subjectPrefix}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, e domain.OutboxEvent) error {
	msg := nats.NewMsg(subject(p.prefix, e.Kind))
	msg.Data = e.Payload
	msg.Header.Set(nats.MsgIdHdr, e.ID)
	msg.Header.Set("User-Id", e.UserID)
	return p.conn.PublishMsg(msg)
}

// Close drains pending messages before closing the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
