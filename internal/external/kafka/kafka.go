// Package kafka publishes outbox events to a Kafka topic for downstream
// consumers such as refund processing and analytics.
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/lascentlo/internal/domain/notify"
)

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value of every published message.
type Envelope struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	OrderID   string         `json:"order_id,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

var _ notify.Sink = (*Sink)(nil)

// Sink writes events to a single topic keyed by order id, so events of one
// order stay in one partition.
type Sink struct {
	w messageWriter
}

// New returns a Sink writing to topic on brokers.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	return &Sink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "kafka" }

// Send implements notify.Sink. One-time tokens are stripped: the topic is
// shared with consumers that must not be able to reset passwords.
func (s *Sink) Send(ctx context.Context, evt notify.Event) error {
	evt = evt.Redacted()
	data, err := json.Marshal(Envelope{
		EventID:   evt.ID,
		Type:      string(evt.Type),
		OrderID:   evt.OrderID,
		Recipient: evt.Recipient,
		Payload:   evt.Payload,
		CreatedAt: evt.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	key := evt.OrderID
	if key == "" {
		key = evt.ID
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(evt.Type)}},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", evt.Type)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.w.Close()
}
