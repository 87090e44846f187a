package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
)

// scriptedProcessor answers each task from a per-task list of errors; the
// last entry repeats. A nil error is a success.
type scriptedProcessor struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
	order   []string
	block   chan struct{}
}

func newProcessor() *scriptedProcessor {
	return &scriptedProcessor{scripts: make(map[string][]error), calls: make(map[string]int)}
}

func (p *scriptedProcessor) Process(ctx context.Context, task document.IngestTask) document.TaskOutcome {
	p.mu.Lock()
	n := p.calls[task.TaskID]
	p.calls[task.TaskID]++
	p.order = append(p.order, task.TaskID)
	script := p.scripts[task.TaskID]
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return document.NewFailure(task.TaskID, apperrors.Fail(apperrors.ReasonTimeout, ctx.Err(), "interrupted"))
		}
	}
	var err error
	if len(script) > 0 {
		err = script[min(n, len(script)-1)]
	}
	if err != nil {
		return document.NewFailure(task.TaskID, err)
	}
	return document.TaskOutcome{TaskID: task.TaskID, Status: document.StatusSuccess, ArchiveRecordID: 1, FinishedAt: time.Now()}
}

func (p *scriptedProcessor) callsFor(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

// collector is a sink that forwards outcomes to a channel.
func collector() (Sink, chan document.TaskOutcome) {
	ch := make(chan document.TaskOutcome, 32)
	return SinkFunc(func(_ context.Context, out document.TaskOutcome) error {
		ch <- out
		return nil
	}), ch
}

func await(t *testing.T, ch chan document.TaskOutcome) document.TaskOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an outcome")
		return document.TaskOutcome{}
	}
}

func testConfig() Config {
	return Config{
		Workers:           1,
		QueueSize:         10,
		MaxAttempts:       3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
	}
}

func task(id string) document.IngestTask {
	return document.IngestTask{TaskID: id, SourcePath: "/consume/" + id + ".pdf", OriginalFilename: id + ".pdf"}
}

func TestTasksStartInSubmissionOrder(t *testing.T) {
	proc := newProcessor()
	sink, outcomes := collector()
	p := New(testConfig(), proc, store.NewMemoryTaskLog(), nil, sink)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := p.Enqueue(ctx, task(id)); err != nil {
			t.Fatal(err)
		}
	}
	p.Start(ctx)
	defer p.Shutdown(ctx)
	for range 3 {
		await(t, outcomes)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.order) != 3 || proc.order[0] != "a" || proc.order[1] != "b" || proc.order[2] != "c" {
		t.Errorf("order = %v", proc.order)
	}
}

func TestRetryPolicy(t *testing.T) {
	transient := apperrors.Fail(apperrors.ReasonOcrFailure, nil, "ocrmypdf timed out twice")
	tests := []struct {
		name     string
		script   []error
		status   document.Status
		attempts int
	}{
		{"recovers", []error{transient, transient, nil}, document.StatusSuccess, 3},
		{"exhausted", []error{transient}, document.StatusFailed, 3},
		{"rejected once", []error{apperrors.Reject(apperrors.ReasonDuplicate, nil, "")}, document.StatusRejected, 1},
		{"fatal once", []error{apperrors.Fatal(nil, "scratch dir")}, document.StatusFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newProcessor()
			proc.scripts["t"] = tt.script
			tasks := store.NewMemoryTaskLog()
			sink, outcomes := collector()
			p := New(testConfig(), proc, tasks, nil, sink)
			ctx := context.Background()
			p.Start(ctx)
			defer p.Shutdown(ctx)

			if _, err := p.Enqueue(ctx, task("t")); err != nil {
				t.Fatal(err)
			}
			out := await(t, outcomes)
			if out.Status != tt.status || out.Attempts != tt.attempts {
				t.Errorf("outcome = %s after %d attempts, want %s after %d", out.Status, out.Attempts, tt.status, tt.attempts)
			}
			if got := proc.callsFor("t"); got != tt.attempts {
				t.Errorf("processor calls = %d", got)
			}
			entry, err := tasks.Get(ctx, "t")
			if err != nil || entry.Status != string(tt.status) || entry.Outcome == nil {
				t.Errorf("task log entry = %+v, %v", entry, err)
			}
		})
	}
}

func TestCancelOnlyWhileQueued(t *testing.T) {
	proc := newProcessor()
	tasks := store.NewMemoryTaskLog()
	sink, outcomes := collector()
	p := New(testConfig(), proc, tasks, nil, sink)
	ctx := context.Background()

	if _, err := p.Enqueue(ctx, task("x")); err != nil {
		t.Fatal(err)
	}
	if !p.Cancel(ctx, "x") {
		t.Fatal("queued task could not be cancelled")
	}
	out := await(t, outcomes)
	if out.Status != document.StatusRejected || out.Reason != apperrors.ReasonCancelled {
		t.Errorf("outcome = %s %s", out.Status, out.Reason)
	}
	if p.Cancel(ctx, "x") {
		t.Error("cancelled twice")
	}

	proc.block = make(chan struct{})
	p.Start(ctx)
	defer p.Shutdown(ctx)
	if _, err := p.Enqueue(ctx, task("y")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Running == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.Cancel(ctx, "y") {
		t.Error("running task was cancelled")
	}
	close(proc.block)
	if out := await(t, outcomes); out.TaskID != "y" || out.Status != document.StatusSuccess {
		t.Errorf("outcome = %+v", out)
	}
	if proc.callsFor("x") != 0 {
		t.Error("cancelled task was processed")
	}
}

func TestEnqueueRejectsDuplicatesAndOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	p := New(cfg, newProcessor(), store.NewMemoryTaskLog(), nil)
	ctx := context.Background()

	if _, err := p.Enqueue(ctx, task("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Enqueue(ctx, task("a")); !errors.Is(err, store.ErrTaskExists) {
		t.Errorf("duplicate enqueue err = %v", err)
	}
	if _, err := p.Enqueue(ctx, task("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Enqueue(ctx, task("c")); !errors.Is(err, apperrors.ErrQueueFull) {
		t.Errorf("overflow err = %v", err)
	}
	id, err := p.Enqueue(ctx, document.IngestTask{SourcePath: "/x"})
	if !errors.Is(err, apperrors.ErrQueueFull) || id != "" {
		t.Errorf("got %q, %v", id, err)
	}
}

func TestOperatorRetryOfFailedTask(t *testing.T) {
	proc := newProcessor()
	proc.scripts["t"] = []error{
		apperrors.Fail(apperrors.ReasonStorageFailure, nil, "disk full"),
		apperrors.Fail(apperrors.ReasonStorageFailure, nil, "disk full"),
		nil,
	}
	cfg := testConfig()
	cfg.MaxAttempts = 2
	tasks := store.NewMemoryTaskLog()
	sink, outcomes := collector()
	p := New(cfg, proc, tasks, nil, sink)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Shutdown(ctx)

	if _, err := p.Enqueue(ctx, task("t")); err != nil {
		t.Fatal(err)
	}
	if out := await(t, outcomes); out.Status != document.StatusFailed {
		t.Fatalf("first run = %s", out.Status)
	}
	failed, _ := tasks.ListByStatus(ctx, string(document.StatusFailed), false)
	if len(failed) != 1 {
		t.Fatalf("failed tasks = %d", len(failed))
	}

	if err := p.Retry(ctx, "t"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if out := await(t, outcomes); out.Status != document.StatusSuccess {
		t.Fatalf("retry run = %s", out.Status)
	}
	if err := p.Retry(ctx, "t"); !errors.Is(err, store.ErrNotRetriable) {
		t.Errorf("retry of a successful task: %v", err)
	}
}

func TestTaskCeiling(t *testing.T) {
	proc := newProcessor()
	proc.block = make(chan struct{})
	defer close(proc.block)
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.TaskTimeout = 20 * time.Millisecond
	sink, outcomes := collector()
	p := New(cfg, proc, store.NewMemoryTaskLog(), nil, sink)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Shutdown(ctx)

	if _, err := p.Enqueue(ctx, task("slow")); err != nil {
		t.Fatal(err)
	}
	out := await(t, outcomes)
	if out.Status != document.StatusFailed || out.Reason != apperrors.ReasonTimeout {
		t.Errorf("outcome = %s %s", out.Status, out.Reason)
	}
}

// deafProcessor ignores its context and records how many runs overlap.
type deafProcessor struct {
	mu       sync.Mutex
	sleep    time.Duration
	fail     error
	inFlight int
	peak     int
	perTask  map[string]int
	peakTask int
}

func (p *deafProcessor) Process(_ context.Context, task document.IngestTask) document.TaskOutcome {
	p.mu.Lock()
	p.inFlight++
	p.perTask[task.TaskID]++
	p.peak = max(p.peak, p.inFlight)
	p.peakTask = max(p.peakTask, p.perTask[task.TaskID])
	p.mu.Unlock()

	time.Sleep(p.sleep)

	p.mu.Lock()
	p.inFlight--
	p.perTask[task.TaskID]--
	p.mu.Unlock()
	if p.fail != nil {
		return document.NewFailure(task.TaskID, p.fail)
	}
	return document.TaskOutcome{TaskID: task.TaskID, Status: document.StatusSuccess, ArchiveRecordID: 1, FinishedAt: time.Now()}
}

func TestCeilingNeverOverlapsRuns(t *testing.T) {
	tests := []struct {
		name     string
		fail     error
		status   document.Status
		reason   apperrors.Reason
		attempts int
	}{
		{"late success is kept", nil, document.StatusSuccess, "", 1},
		{"late failure is a timeout", apperrors.Fail(apperrors.ReasonOcrFailure, nil, "ocr"), document.StatusFailed, apperrors.ReasonTimeout, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &deafProcessor{sleep: 60 * time.Millisecond, fail: tt.fail, perTask: make(map[string]int)}
			cfg := testConfig()
			cfg.TaskTimeout = 10 * time.Millisecond
			sink, outcomes := collector()
			p := New(cfg, proc, store.NewMemoryTaskLog(), nil, sink)
			ctx := context.Background()
			for _, id := range []string{"a", "b"} {
				if _, err := p.Enqueue(ctx, task(id)); err != nil {
					t.Fatal(err)
				}
			}
			p.Start(ctx)
			defer p.Shutdown(ctx)

			for range 2 {
				out := await(t, outcomes)
				if out.Status != tt.status || out.Reason != tt.reason || out.Attempts != tt.attempts {
					t.Errorf("%s: %s/%s after %d attempts", out.TaskID, out.Status, out.Reason, out.Attempts)
				}
			}
			proc.mu.Lock()
			defer proc.mu.Unlock()
			if proc.peak > cfg.Workers || proc.peakTask > 1 {
				t.Errorf("workers=%d but %d runs overlapped, %d of the same task", cfg.Workers, proc.peak, proc.peakTask)
			}
		})
	}
}

func TestRecoverRequeuesUnfinishedTasks(t *testing.T) {
	ctx := context.Background()
	tasks := store.NewMemoryTaskLog()
	for _, id := range []string{"q1", "r1"} {
		if err := tasks.RecordQueued(ctx, task(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tasks.RecordStarted(ctx, "r1", 1); err != nil {
		t.Fatal(err)
	}

	sink, outcomes := collector()
	p := New(testConfig(), newProcessor(), tasks, nil, sink)
	n, err := p.Recover(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	if pending := p.Stats().Pending; len(pending) != 2 || pending[0] != "r1" {
		t.Errorf("pending = %v", pending)
	}
	p.Start(ctx)
	defer p.Shutdown(ctx)
	await(t, outcomes)
	await(t, outcomes)
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []kafka.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestKafkaSinkTripsBreaker(t *testing.T) {
	pub := &fakePublisher{}
	breaker := resilience.NewCircuitBreaker("outcomes", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	sink := NewKafkaSink(pub, breaker)
	ctx := context.Background()
	out := document.TaskOutcome{TaskID: "t", Status: document.StatusSuccess}

	if err := sink.Deliver(ctx, out); err != nil {
		t.Fatal(err)
	}
	if len(pub.events) != 1 || pub.events[0].Key != "t" {
		t.Errorf("events = %+v", pub.events)
	}

	pub.err = errors.New("broker unreachable")
	for range 3 {
		sink.Deliver(ctx, out)
	}
	if err := sink.Deliver(ctx, out); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected open circuit, got %v", err)
	}
}

func TestHandleIngestDropsRedelivery(t *testing.T) {
	p := New(testConfig(), newProcessor(), store.NewMemoryTaskLog(), nil)
	handle := HandleIngest(p)
	ctx := context.Background()
	value, _ := json.Marshal(task("k1"))

	if err := handle(ctx, []byte("k1"), value); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := handle(ctx, []byte("k1"), value); err != nil {
		t.Fatalf("redelivery should be dropped, got %v", err)
	}
	if err := handle(ctx, nil, []byte("{not json")); err != nil {
		t.Errorf("poison message should be skipped, got %v", err)
	}
	if got := p.Stats().Queued; got != 1 {
		t.Errorf("queued = %d", got)
	}
}
