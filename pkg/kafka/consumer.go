// Package kafka carries the pipeline's JSON events over segmentio/kafka-go:
// ingest tasks from the upload service, task outcomes and stage events from
// the consumer, model updates from the trainer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
)

// MessageHandler is invoked for each delivered message. A nil error commits
// the message; an error leaves it uncommitted for the next group member.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic in a consumer group and hands each accepted
// message to its handler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	accept  map[string]bool
}

type consumerSettings struct {
	reader kafka.ReaderConfig
	accept map[string]bool
}

type ConsumerOption func(*consumerSettings)

// FromEarliest makes a new consumer group start at the oldest retained
// message, so tasks published while no consumer ran are not skipped.
func FromEarliest() ConsumerOption {
	return func(s *consumerSettings) { s.reader.StartOffset = kafka.FirstOffset }
}

// WithGroupID overrides the configured consumer group. Listeners that every
// process must see (model updates) use a per-process group.
func WithGroupID(id string) ConsumerOption {
	return func(s *consumerSettings) { s.reader.GroupID = id }
}

// OnlyTypes delivers messages whose event-type header is one of types.
// Others are committed unseen. Messages without the header are delivered.
func OnlyTypes(types ...string) ConsumerOption {
	return func(s *consumerSettings) {
		if s.accept == nil {
			s.accept = make(map[string]bool, len(types))
		}
		for _, t := range types {
			s.accept[t] = true
		}
	}
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	s := consumerSettings{reader: kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	}}
	for _, opt := range opts {
		opt(&s)
	}
	return &Consumer{
		reader:  kafka.NewReader(s.reader),
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", s.reader.GroupID),
		handler: handler,
		accept:  s.accept,
	}
}

// Start fetches and dispatches messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		if !c.dispatch(ctx, msg) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// dispatch runs the handler for msg and reports whether msg may be
// committed.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) bool {
	typ := EventType(msg)
	if typ != "" && c.accept != nil && !c.accept[typ] {
		c.logger.Debug("skipping message", "type", typ, "offset", msg.Offset)
		return true
	}
	c.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"type", typ,
		"value_size", len(msg.Value),
	)
	if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
		c.logger.Error("failed to process message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
		return false
	}
	return true
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
