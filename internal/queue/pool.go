// Package queue feeds ingest tasks to a fixed-size worker pool. Tasks start
// in submission order and may finish in any order. Failed runs are retried
// with backoff up to a bound; every task produces exactly one outcome, which
// is handed to the configured sinks.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shut down")

// Processor runs one task to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, task document.IngestTask) document.TaskOutcome
}

type Config struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	TaskTimeout       time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int      `json:"workers"`
	Queued  int      `json:"queued"`
	Running int      `json:"running"`
	Pending []string `json:"pending,omitempty"`
}

type Pool struct {
	cfg     Config
	proc    Processor
	tasks   store.TaskLog
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	ready   *sync.Cond
	pending *list.List
	byID    map[string]*list.Element
	running map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

// New builds a pool. The task log is always the first sink; further sinks
// receive every outcome after it.
func New(cfg Config, proc Processor, tasks store.TaskLog, m *metrics.Metrics, sinks ...Sink) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	p := &Pool{
		cfg:     cfg,
		proc:    proc,
		tasks:   tasks,
		sinks:   append([]Sink{TaskLogSink{Log: tasks}}, sinks...),
		metrics: m,
		logger:  slog.Default().With("component", "worker-pool"),
		pending: list.New(),
		byID:    make(map[string]*list.Element),
		running: make(map[string]bool),
	}
	p.ready = sync.NewCond(&p.mu)
	return p
}

// Enqueue records task as queued and appends it to the queue. A task
// without an id is given one. A task id seen before yields
// store.ErrTaskExists; a full queue yields ErrQueueFull.
func (p *Pool) Enqueue(ctx context.Context, task document.IngestTask) (string, error) {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now().UTC()
	}

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return "", ErrClosed
	case p.cfg.QueueSize > 0 && p.pending.Len() >= p.cfg.QueueSize:
		p.mu.Unlock()
		return "", apperrors.ErrQueueFull
	case p.byID[task.TaskID] != nil || p.running[task.TaskID]:
		p.mu.Unlock()
		return "", store.ErrTaskExists
	}
	p.mu.Unlock()

	if err := p.tasks.RecordQueued(ctx, task); err != nil {
		return "", fmt.Errorf("recording task %s: %w", task.TaskID, err)
	}
	if err := p.push(task); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("task queued",
		"task_id", task.TaskID,
		"file", task.OriginalFilename,
	)
	return task.TaskID, nil
}

func (p *Pool) push(task document.IngestTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.byID[task.TaskID] = p.pending.PushBack(task)
	p.metrics.SetQueueDepth(p.pending.Len())
	p.ready.Signal()
	return nil
}

// Cancel removes a task that no worker has claimed yet and reports it as
// Rejected(Cancelled). It returns false for running, finished or unknown
// tasks.
func (p *Pool) Cancel(ctx context.Context, taskID string) bool {
	p.mu.Lock()
	el, ok := p.byID[taskID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	task := p.pending.Remove(el).(document.IngestTask)
	delete(p.byID, taskID)
	p.metrics.SetQueueDepth(p.pending.Len())
	p.mu.Unlock()

	out := document.NewFailure(taskID, apperrors.Reject(apperrors.ReasonCancelled, nil, "cancelled before processing"))
	p.deliver(ctx, task, out, time.Duration(0))
	return true
}

// Retry re-enqueues a Failed task on operator request.
func (p *Pool) Retry(ctx context.Context, taskID string) error {
	task, err := p.tasks.Reopen(ctx, taskID)
	if err != nil {
		return err
	}
	p.logger.Info("task reopened by operator", "task_id", taskID)
	return p.push(task)
}

// Recover re-enqueues tasks the log still shows as queued or running, in
// submission order. It is meant to run once before Start.
func (p *Pool) Recover(ctx context.Context) (int, error) {
	n := 0
	for _, status := range []string{store.TaskRunning, store.TaskQueued} {
		entries, err := p.tasks.ListByStatus(ctx, status, true)
		if err != nil {
			return n, fmt.Errorf("listing %s tasks: %w", status, err)
		}
		for _, e := range entries {
			if err := p.push(e.Task); err != nil {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		p.logger.Info("recovered unfinished tasks", "count", n)
	}
	return n, nil
}

// Start launches the workers. They stop once ctx is cancelled or Shutdown
// is called.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.close()
	}()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "workers", p.cfg.Workers)
}

// Shutdown stops handing out tasks and waits for running ones to finish.
// Queued tasks stay QUEUED in the task log and are picked up by Recover.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (p *Pool) close() {
	p.mu.Lock()
	p.closed = true
	p.ready.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Workers: p.cfg.Workers, Queued: p.pending.Len(), Running: len(p.running)}
	for el := p.pending.Front(); el != nil; el = el.Next() {
		s.Pending = append(s.Pending, el.Value.(document.IngestTask).TaskID)
	}
	return s
}

// next blocks until a task is available at the front of the queue. It
// returns false once the pool is closed.
func (p *Pool) next() (document.IngestTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending.Len() == 0 && !p.closed {
		p.ready.Wait()
	}
	if p.closed {
		return document.IngestTask{}, false
	}
	task := p.pending.Remove(p.pending.Front()).(document.IngestTask)
	delete(p.byID, task.TaskID)
	p.running[task.TaskID] = true
	p.metrics.SetQueueDepth(p.pending.Len())
	return task, true
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.metrics.WorkerBusy(1)
		p.run(ctx, task)
		p.metrics.WorkerBusy(-1)
	}
}

// run executes task with retries. Only Failed outcomes are retried; each
// attempt is bounded by the task ceiling.
func (p *Pool) run(ctx context.Context, task document.IngestTask) {
	ctx = logger.WithTaskID(ctx, task.TaskID)
	log := logger.FromContext(ctx)
	start := time.Now()
	attempts := 0
	var out document.TaskOutcome

	retry := resilience.RetryConfig{
		MaxAttempts:  p.cfg.MaxAttempts,
		InitialDelay: p.cfg.RetryInitialDelay,
		MaxDelay:     p.cfg.RetryMaxDelay,
	}
	err := resilience.RetryIf(ctx, "task "+task.TaskID, retry, apperrors.Retryable, func(attempt int) error {
		attempts = attempt
		if err := p.tasks.RecordStarted(ctx, task.TaskID, attempts); err != nil {
			log.Warn("recording task start failed", "error", err)
		}
		out = p.attempt(ctx, task)
		return out.Err
	})
	if ctx.Err() != nil && out.Status != document.StatusSuccess {
		log.Warn("task interrupted by shutdown, left for recovery", "attempts", attempts)
		p.mu.Lock()
		delete(p.running, task.TaskID)
		p.mu.Unlock()
		return
	}
	if out.TaskID == "" {
		out = document.NewFailure(task.TaskID, apperrors.Fail(apperrors.ReasonInternal, err, "no outcome"))
	}
	out.Attempts = attempts
	if out.Status == document.StatusFailed && attempts >= p.cfg.MaxAttempts {
		log.Error("task failed after all attempts, operator attention needed",
			"attempts", attempts,
			"reason", out.Reason,
		)
	}
	p.deliver(ctx, task, out, time.Since(start))
}

// attempt runs one try under the task ceiling. The worker keeps the task
// until Process has returned, so a run that ignores its context still
// occupies the worker instead of overlapping with the next attempt. A
// non-success run that overshot the ceiling is reported as Failed(Timeout);
// one that succeeded anyway keeps its success, its record is committed.
func (p *Pool) attempt(ctx context.Context, task document.IngestTask) document.TaskOutcome {
	var out document.TaskOutcome
	err := resilience.WithTimeout(ctx, p.cfg.TaskTimeout, "task "+task.TaskID, func(ctx context.Context) error {
		out = p.proc.Process(ctx, task)
		return out.Err
	})
	if out.Status != document.StatusSuccess && resilience.Expired(ctx, err) {
		return document.NewFailure(task.TaskID, apperrors.Fail(apperrors.ReasonTimeout, err, "task ceiling reached"))
	}
	return out
}

func (p *Pool) deliver(ctx context.Context, task document.IngestTask, out document.TaskOutcome, d time.Duration) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range p.sinks {
		if err := s.Deliver(ctx, out); err != nil {
			p.logger.Error("delivering outcome failed",
				"task_id", task.TaskID,
				"sink", fmt.Sprintf("%T", s),
				"error", err,
			)
		}
	}
	p.metrics.ObserveTask(string(out.Status), string(out.Reason), d, out.Attempts)

	p.mu.Lock()
	delete(p.running, task.TaskID)
	p.mu.Unlock()
}
