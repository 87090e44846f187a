package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func TestNewStageEventClassifies(t *testing.T) {
	ok := NewStageEvent("t", "extract", 1500*time.Millisecond, nil)
	if ok.Status != StatusOK || ok.DurationMs != 1500 || ok.Reason != "" {
		t.Errorf("ok event = %+v", ok)
	}
	failed := NewStageEvent("t", "extract", 0, apperrors.Fail(apperrors.ReasonOcrFailure, nil, "x"))
	if failed.Status != StatusFailed || failed.Reason != apperrors.ReasonOcrFailure {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestCollectorFlushesAndRequeues(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	bc := NewBatchCollector(pub, nil, m, 10, time.Hour)

	bc.Stage("t1", "split", time.Millisecond, nil)
	bc.Stage("t1", "extract", time.Millisecond, nil)
	bc.Flush(context.Background())
	if bc.BufferLen() != 2 {
		t.Fatalf("failed batch should be requeued, buffer=%d", bc.BufferLen())
	}
	if got := testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("error counter = %v", got)
	}

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	bc.Flush(context.Background())
	if bc.BufferLen() != 0 || len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("flush did not publish: buffer=%d batches=%v", bc.BufferLen(), pub.batches)
	}
	if pub.batches[0][0].Key != "t1" {
		t.Errorf("event key = %q, want task id", pub.batches[0][0].Key)
	}
}

func TestCollectorCapsBuffer(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	bc := NewBatchCollector(pub, nil, nil, 2, time.Hour)
	for i := 0; i < 5; i++ {
		bc.mu.Lock()
		bc.buffer = append(bc.buffer, kafka.Event{Key: "a"}, kafka.Event{Key: "b"}, kafka.Event{Key: "c"})
		bc.mu.Unlock()
		bc.Flush(context.Background())
	}
	if bc.BufferLen() != 6 {
		t.Errorf("buffer = %d, want cap of 6", bc.BufferLen())
	}
}

func TestCollectorStartFlushesOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	agg := NewAggregator()
	bc := NewBatchCollector(pub, agg, nil, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)
	bc.Stage("t", "commit", 3*time.Millisecond, nil)
	cancel()
	bc.Close()
	if len(pub.batches) != 1 {
		t.Errorf("expected final flush on shutdown, got %d batches", len(pub.batches))
	}
	if agg.Snapshot().TotalEvents != 1 {
		t.Error("aggregator did not see the event")
	}
}

func TestAggregatorSnapshotAndHandler(t *testing.T) {
	agg := NewAggregator()
	for i := 1; i <= 100; i++ {
		agg.Record(StageEvent{Stage: "extract", Status: StatusOK, DurationMs: int64(i)})
	}
	agg.Record(StageEvent{Stage: "extract", Status: StatusFailed, Reason: apperrors.ReasonOcrFailure, DurationMs: 1000})
	agg.Record(StageEvent{Stage: "split", Status: StatusOK, DurationMs: 5})

	snap := agg.Snapshot()
	if len(snap.Stages) != 2 || snap.Stages[0].Stage != "extract" {
		t.Fatalf("stages = %+v", snap.Stages)
	}
	ext := snap.Stages[0]
	if ext.Count != 101 || ext.Failures != 1 || ext.P50LatencyMs != 51 {
		t.Errorf("extract stats = %+v", ext)
	}
	if len(ext.TopReasons) != 1 || ext.TopReasons[0].Reason != "OcrFailure" {
		t.Errorf("top reasons = %+v", ext.TopReasons)
	}

	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var decoded Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.TotalEvents != 102 {
		t.Errorf("TotalEvents = %d", decoded.TotalEvents)
	}
}
