// Package events publishes adherence events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// TypeDoseTaken is the event type emitted after an item is marked as taken.
const TypeDoseTaken = "dose.taken"

// DoseTaken is emitted once per successful mark. Already-taken marks do not
// emit an event.
type DoseTaken struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ItemID     string    `json:"prescription_item_id"`
	Subject    string    `json:"subject,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewDoseTaken builds an event with a fresh id.
func NewDoseTaken(itemID, subject string, at time.Time) DoseTaken {
	return DoseTaken{
		ID:         uuid.New().String(),
		Type:       TypeDoseTaken,
		ItemID:     itemID,
		Subject:    subject,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers adherence events.
type Publisher interface {
	PublishDoseTaken(ctx context.Context, evt DoseTaken) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishDoseTaken(context.Context, DoseTaken) error { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by prescription item.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher connects a writer to the comma-separated broker list.
func NewKafkaPublisher(brokers, topic string, logger zerolog.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}, nil
}

// Message encodes evt as a Kafka message. Keying by item keeps all events for
// one item on one partition.
func Message(evt DoseTaken) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	return kafka.Message{
		Key:   []byte(evt.ItemID),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "event-id", Value: []byte(evt.ID)},
		},
	}, nil
}

func (p *KafkaPublisher) PublishDoseTaken(ctx context.Context, evt DoseTaken) error {
	msg, err := Message(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.logger.Debug().Str("topic", p.topic).Str("item_id", evt.ItemID).Msg("dose taken event published")
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
