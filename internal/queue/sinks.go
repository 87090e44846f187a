package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
)

// Sink receives terminal task outcomes.
type Sink interface {
	Deliver(ctx context.Context, out document.TaskOutcome) error
}

// SinkFunc adapts a callback to a Sink.
type SinkFunc func(ctx context.Context, out document.TaskOutcome) error

func (f SinkFunc) Deliver(ctx context.Context, out document.TaskOutcome) error {
	return f(ctx, out)
}

// TaskLogSink writes outcomes to the task log. An outcome already recorded
// for the run is not an error.
type TaskLogSink struct {
	Log store.TaskLog
}

func (s TaskLogSink) Deliver(ctx context.Context, out document.TaskOutcome) error {
	err := s.Log.RecordOutcome(ctx, out)
	if errors.Is(err, store.ErrOutcomeRecorded) {
		return nil
	}
	return err
}

// Publisher is the part of the Kafka producer the outcome sink needs.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaSink publishes outcomes keyed by task id. Publishing goes through a
// circuit breaker so an unreachable broker does not stall every worker on
// the writer's own retries.
type KafkaSink struct {
	publisher Publisher
	breaker   *resilience.CircuitBreaker
}

func NewKafkaSink(pub Publisher, breaker *resilience.CircuitBreaker) *KafkaSink {
	return &KafkaSink{publisher: pub, breaker: breaker}
}

func (s *KafkaSink) Deliver(ctx context.Context, out document.TaskOutcome) error {
	err := s.breaker.Execute(func() error {
		return s.publisher.Publish(ctx, kafka.Event{Key: out.TaskID, Type: kafka.TypeTaskOutcome, Value: out})
	})
	if err != nil {
		return fmt.Errorf("publishing outcome of %s: %w", out.TaskID, err)
	}
	return nil
}
