package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
)

// Publisher is the batch side of a Kafka producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// BatchCollector accumulates stage events and flushes them to Kafka either
// when the batch reaches batchSize or after flushInterval. Events are also
// recorded in an optional Aggregator.
type BatchCollector struct {
	publisher     Publisher
	aggregator    *Aggregator
	metrics       *metrics.Metrics
	mu            sync.Mutex
	flushMu       sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

// NewBatchCollector creates a collector. publisher may be nil, in which case
// events only feed the aggregator.
func NewBatchCollector(publisher Publisher, agg *Aggregator, m *metrics.Metrics, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		aggregator:    agg,
		metrics:       m,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "event-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which ends when ctx is cancelled.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("event collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Stage records the end of one pipeline stage.
func (bc *BatchCollector) Stage(taskID, stage string, d time.Duration, err error) {
	bc.Track(NewStageEvent(taskID, stage, d, err))
}

// Track buffers ev. Reaching batchSize triggers an asynchronous flush.
func (bc *BatchCollector) Track(ev StageEvent) {
	if bc.aggregator != nil {
		bc.aggregator.Record(ev)
	}
	if bc.publisher == nil {
		return
	}
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: ev.TaskID, Type: kafka.TypeStageEvent, Value: ev})
	shouldFlush := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if shouldFlush {
		go bc.Flush(context.Background())
	}
}

// Close waits for the background flush loop to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush publishes the buffered events. A failed batch is put back in front
// of the buffer, which is capped at three batches.
func (bc *BatchCollector) Flush(ctx context.Context) {
	if bc.publisher == nil {
		return
	}
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.metrics.EventsPublished("error", len(batch))
		bc.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		bc.mu.Lock()
		bc.buffer = append(batch, bc.buffer...)
		if limit := bc.batchSize * 3; len(bc.buffer) > limit {
			dropped := len(bc.buffer) - limit
			bc.buffer = bc.buffer[:limit]
			bc.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		bc.mu.Unlock()
		return
	}
	bc.metrics.EventsPublished("ok", len(batch))
	bc.logger.Debug("batch flushed", "events", len(batch))
}
