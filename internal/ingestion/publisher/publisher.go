// Package publisher hands accepted ingest tasks to the consumer, either as
// events on the Kafka ingest topic or over the consumer's task RPC when
// Kafka is not deployed.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/rpc"
)

// ErrTaskExists is returned when the consumer already knows the task id.
var ErrTaskExists = errors.New("task already submitted")

// EventPublisher is the part of the Kafka producer the publisher needs.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Kafka publishes tasks keyed by task id so redeliveries land on the same
// partition.
type Kafka struct {
	producer EventPublisher
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

func NewKafka(producer EventPublisher, breaker *resilience.CircuitBreaker) *Kafka {
	return &Kafka{
		producer: producer,
		breaker:  breaker,
		logger:   slog.Default().With("component", "ingest-publisher"),
	}
}

func (k *Kafka) Submit(ctx context.Context, task document.IngestTask) (string, error) {
	err := k.breaker.Execute(func() error {
		return k.producer.Publish(ctx, kafka.Event{Key: task.TaskID, Type: kafka.TypeIngestTask, Value: task})
	})
	if err != nil {
		k.logger.Error("failed to publish ingest task",
			"task_id", task.TaskID,
			"error", err,
		)
		return "", apperrors.New(apperrors.ErrUnavailable, 503, "ingest queue unavailable")
	}
	return task.TaskID, nil
}

// RPCCaller is the part of the RPC client the publisher needs.
type RPCCaller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// RPC submits tasks straight to the consumer's queue.
type RPC struct {
	client RPCCaller
	logger *slog.Logger
}

func NewRPC(client RPCCaller) *RPC {
	return &RPC{client: client, logger: slog.Default().With("component", "ingest-rpc")}
}

func (p *RPC) Submit(ctx context.Context, task document.IngestTask) (string, error) {
	var resp proto.SubmitResponse
	err := p.client.Call(ctx, proto.MethodSubmit, proto.SubmitRequest{Task: task}, &resp)
	if err == nil {
		return resp.TaskID, nil
	}
	switch rpc.CodeOf(err) {
	case proto.CodeTaskExists:
		return "", fmt.Errorf("%s: %w", task.TaskID, ErrTaskExists)
	case proto.CodeQueueFull:
		return "", apperrors.New(apperrors.ErrQueueFull, 503, "consumer queue is full")
	case proto.CodeInvalid:
		return "", apperrors.New(apperrors.ErrInvalidInput, 400, err.Error())
	}
	p.logger.Error("consumer rpc failed", "task_id", task.TaskID, "error", err)
	return "", apperrors.New(apperrors.ErrUnavailable, 503, "consumer unavailable")
}
