package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
)

// ModelUpdate announces a newly trained classification model.
type ModelUpdate struct {
	Version int64  `json:"version"`
	Path    string `json:"path"`
}

// HandleIngest returns a Kafka MessageHandler that enqueues every ingest
// task. Redelivered tasks are dropped; a full queue is waited out so the
// message is not committed before the task is accepted.
func HandleIngest(p *Pool) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest-trigger")
	backoff := resilience.RetryConfig{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		task, err := kafka.DecodeJSON[document.IngestTask](value)
		if err != nil {
			logger.Error("failed to decode ingest task",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if task.SourcePath == "" {
			logger.Error("ingest task without source path", "task_id", task.TaskID)
			return nil
		}

		err = resilience.RetryIf(ctx, "enqueue", backoff, func(err error) bool {
			return errors.Is(err, apperrors.ErrQueueFull)
		}, func(int) error {
			_, err := p.Enqueue(ctx, task)
			return err
		})
		if errors.Is(err, store.ErrTaskExists) {
			logger.Debug("ignoring redelivered task", "task_id", task.TaskID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("enqueueing task %s: %w", task.TaskID, err)
		}
		return nil
	}
}

// HandleModelUpdate returns a Kafka MessageHandler that swaps in the model
// named by each update. defaultPath is used when an update carries no path.
func HandleModelUpdate(holder *classifier.Holder, defaultPath string) kafka.MessageHandler {
	logger := slog.Default().With("component", "model-listener")
	return func(ctx context.Context, key []byte, value []byte) error {
		update, err := kafka.DecodeJSON[ModelUpdate](value)
		if err != nil {
			logger.Error("failed to decode model update", "error", err)
			return nil
		}
		path := update.Path
		if path == "" {
			path = defaultPath
		}
		model, err := holder.ReloadFrom(path)
		if err != nil {
			logger.Error("model reload failed",
				"path", path,
				"version", update.Version,
				"error", err,
			)
			return nil
		}
		logger.Info("classification model loaded",
			"version", model.Version,
			"announced", update.Version,
		)
		return nil
	}
}
