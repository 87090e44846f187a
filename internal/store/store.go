// Package store persists archive records and the task log. Both have a
// PostgreSQL implementation for production and an in-memory one used by
// tests and single-process deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

var (
	// ErrConflict is returned by Commit when the content hash already exists.
	ErrConflict = errors.New("content hash already archived")
	// ErrASNConflict is returned by Commit when the archive serial number is
	// taken by another record.
	ErrASNConflict = errors.New("archive serial number already in use")
	// ErrNotFound wraps the shared not-found sentinel.
	ErrNotFound = apperrors.ErrDocumentNotFound
	// ErrTaskExists is returned by RecordQueued for a task id seen before.
	ErrTaskExists = errors.New("task already recorded")
	// ErrOutcomeRecorded is returned when a task's outcome was already written.
	ErrOutcomeRecorded = errors.New("task outcome already recorded")
	// ErrNotRetriable is returned by Reopen for tasks that did not fail.
	ErrNotRetriable = errors.New("task is not in a retriable state")
)

// CommitHook runs inside the commit transaction after the record has its id.
// An error rolls the insert back.
type CommitHook func(ctx context.Context, rec *document.ArchiveRecord) error

type Store interface {
	LookupByHash(ctx context.Context, hash string) (*document.ArchiveRecord, error)
	Get(ctx context.Context, id int64) (*document.ArchiveRecord, error)
	// Commit inserts rec, runs hook and commits. On success rec.ID and
	// rec.CreatedAt are set.
	Commit(ctx context.Context, rec *document.ArchiveRecord, hook CommitHook) (int64, error)
	Delete(ctx context.Context, id int64) error
	// Each calls fn for every record in id order.
	Each(ctx context.Context, fn func(*document.ArchiveRecord) error) error
	// List returns a page of records, newest first.
	List(ctx context.Context, limit, offset int) ([]*document.ArchiveRecord, error)
}

// Task log states besides the terminal document.Status values.
const (
	TaskQueued  = "QUEUED"
	TaskRunning = "RUNNING"
)

// TaskEntry is one row of the task log.
type TaskEntry struct {
	Task         document.IngestTask   `json:"task"`
	Status       string                `json:"status"`
	Reason       apperrors.Reason      `json:"reason,omitempty"`
	Message      string                `json:"message,omitempty"`
	Attempts     int                   `json:"attempts"`
	Acknowledged bool                  `json:"acknowledged"`
	Outcome      *document.TaskOutcome `json:"outcome,omitempty"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
}

type TaskLog interface {
	RecordQueued(ctx context.Context, task document.IngestTask) error
	RecordStarted(ctx context.Context, taskID string, attempt int) error
	// RecordOutcome writes the terminal outcome exactly once per run.
	RecordOutcome(ctx context.Context, out document.TaskOutcome) error
	Get(ctx context.Context, taskID string) (*TaskEntry, error)
	// ListByStatus returns entries in submission order. Acknowledged entries
	// are omitted unless includeAcknowledged is set.
	ListByStatus(ctx context.Context, status string, includeAcknowledged bool) ([]TaskEntry, error)
	Acknowledge(ctx context.Context, taskID string) error
	// Reopen moves a Failed task back to queued for an operator retry and
	// returns it.
	Reopen(ctx context.Context, taskID string) (document.IngestTask, error)
}
