package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
)

// Memory is an in-process Store. A record being committed reserves its hash
// and ASN but stays invisible to lookups until the hook succeeds.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*document.ArchiveRecord
	byHash  map[string]int64
	byASN   map[string]int64
	pending map[string]bool

	// FailCommit, when set, is consulted after the hook and simulates a
	// failing transaction commit.
	FailCommit func(rec *document.ArchiveRecord) error
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[int64]*document.ArchiveRecord),
		byHash:  make(map[string]int64),
		byASN:   make(map[string]int64),
		pending: make(map[string]bool),
	}
}

func (m *Memory) LookupByHash(_ context.Context, hash string) (*document.ArchiveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("hash %s: %w", hash, ErrNotFound)
	}
	return clone(m.records[id]), nil
}

func (m *Memory) Get(_ context.Context, id int64) (*document.ArchiveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return clone(rec), nil
}

func (m *Memory) Commit(ctx context.Context, rec *document.ArchiveRecord, hook CommitHook) (int64, error) {
	m.mu.Lock()
	if _, ok := m.byHash[rec.ContentHash]; ok || m.pending[rec.ContentHash] {
		m.mu.Unlock()
		return 0, ErrConflict
	}
	if rec.ASN != "" {
		if _, ok := m.byASN[rec.ASN]; ok || m.pending["asn:"+rec.ASN] {
			m.mu.Unlock()
			return 0, ErrASNConflict
		}
		m.pending["asn:"+rec.ASN] = true
	}
	m.nextID++
	id := m.nextID
	m.pending[rec.ContentHash] = true
	m.mu.Unlock()

	rec.ID = id
	rec.CreatedAt = time.Now().UTC()
	err := m.runHook(ctx, rec, hook)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, rec.ContentHash)
	delete(m.pending, "asn:"+rec.ASN)
	if err != nil {
		rec.ID = 0
		return 0, err
	}
	m.records[id] = clone(rec)
	m.byHash[rec.ContentHash] = id
	if rec.ASN != "" {
		m.byASN[rec.ASN] = id
	}
	return id, nil
}

func (m *Memory) runHook(ctx context.Context, rec *document.ArchiveRecord, hook CommitHook) error {
	if hook != nil {
		if err := hook(ctx, rec); err != nil {
			return err
		}
	}
	if m.FailCommit != nil {
		if err := m.FailCommit(rec); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	delete(m.records, id)
	delete(m.byHash, rec.ContentHash)
	if rec.ASN != "" {
		delete(m.byASN, rec.ASN)
	}
	return nil
}

func (m *Memory) Each(ctx context.Context, fn func(*document.ArchiveRecord) error) error {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) List(_ context.Context, limit, offset int) ([]*document.ArchiveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := make([]*document.ArchiveRecord, 0, limit)
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, clone(m.records[ids[i]]))
	}
	return out, nil
}

// Count returns the number of committed records.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func clone(rec *document.ArchiveRecord) *document.ArchiveRecord {
	c := *rec
	c.Tags = append([]string(nil), rec.Tags...)
	return &c
}

// MemoryTaskLog is an in-process TaskLog.
type MemoryTaskLog struct {
	mu      sync.Mutex
	entries map[string]*TaskEntry
	order   []string
}

func NewMemoryTaskLog() *MemoryTaskLog {
	return &MemoryTaskLog{entries: make(map[string]*TaskEntry)}
}

func (l *MemoryTaskLog) RecordQueued(_ context.Context, task document.IngestTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[task.TaskID]; ok {
		return fmt.Errorf("task %s: %w", task.TaskID, ErrTaskExists)
	}
	l.entries[task.TaskID] = &TaskEntry{Task: task, Status: TaskQueued}
	l.order = append(l.order, task.TaskID)
	return nil
}

func (l *MemoryTaskLog) RecordStarted(_ context.Context, taskID string, attempt int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	now := time.Now().UTC()
	e.Status = TaskRunning
	e.Attempts = attempt
	e.StartedAt = &now
	return nil
}

func (l *MemoryTaskLog) RecordOutcome(_ context.Context, out document.TaskOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[out.TaskID]
	if !ok {
		return fmt.Errorf("task %s: %w", out.TaskID, ErrNotFound)
	}
	if e.Outcome != nil {
		return fmt.Errorf("task %s: %w", out.TaskID, ErrOutcomeRecorded)
	}
	o := out
	e.Outcome = &o
	e.Status = string(out.Status)
	e.Reason = out.Reason
	e.Message = out.Message
	if out.Attempts > 0 {
		e.Attempts = out.Attempts
	}
	finished := out.FinishedAt
	e.FinishedAt = &finished
	return nil
}

func (l *MemoryTaskLog) Get(_ context.Context, taskID string) (*TaskEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	c := *e
	return &c, nil
}

func (l *MemoryTaskLog) ListByStatus(_ context.Context, status string, includeAcknowledged bool) ([]TaskEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []TaskEntry
	for _, id := range l.order {
		e := l.entries[id]
		if e.Status != status || (e.Acknowledged && !includeAcknowledged) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (l *MemoryTaskLog) Acknowledge(_ context.Context, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	e.Acknowledged = true
	return nil
}

func (l *MemoryTaskLog) Reopen(_ context.Context, taskID string) (document.IngestTask, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[taskID]
	if !ok {
		return document.IngestTask{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if e.Status != string(document.StatusFailed) {
		return document.IngestTask{}, fmt.Errorf("task %s is %s: %w", taskID, e.Status, ErrNotRetriable)
	}
	e.Status = TaskQueued
	e.Outcome = nil
	e.Reason = ""
	e.Message = ""
	e.Acknowledged = false
	e.FinishedAt = nil
	return e.Task, nil
}
