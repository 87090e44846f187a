package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// Event types carried in the event-type header, so a topic can be tailed
// without decoding every value.
const (
	TypeIngestTask  = "ingest.task"
	TypeTaskOutcome = "task.outcome"
	TypeStageEvent  = "stage.event"
	TypeModelUpdate = "model.update"

	headerEventType = "event-type"
	headerProducer  = "produced-at"
)

// Event is one message. Key picks the partition: task ids keep every
// message about one task in order. Value is JSON-encoded.
type Event struct {
	Key   string
	Type  string
	Value any
}

// Producer publishes the pipeline's JSON events to one topic. Writes are
// synchronous and acknowledged by all in-sync replicas, so a nil error
// means the task, outcome or model update is durable.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string { return p.topic }

// Publish writes one event. A broker failure wraps ErrUnavailable.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := encode(event, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish message", "key", event.Key, "type", event.Type, "error", err)
		return fmt.Errorf("publishing %s to %s: %w: %w", event.Key, p.topic, apperrors.ErrUnavailable, err)
	}
	p.logger.Debug("message published", "key", event.Key, "type", event.Type, "value_size", len(msg.Value))
	return nil
}

// PublishBatch writes events in one call. An event that cannot be encoded
// fails the batch before anything is sent.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	now := time.Now()
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := encode(event, now)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish batch", "count", len(messages), "error", err)
		return fmt.Errorf("publishing %d events to %s: %w: %w", len(messages), p.topic, apperrors.ErrUnavailable, err)
	}
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}

func encode(event Event, at time.Time) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s event %s: %w", event.Type, event.Key, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerProducer, Value: []byte(at.UTC().Format(time.RFC3339Nano))},
		},
	}
	if event.Type != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: headerEventType, Value: []byte(event.Type)})
	}
	return msg, nil
}

// EventType returns the event-type header of msg, or "".
func EventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == headerEventType {
			return string(h.Value)
		}
	}
	return ""
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
