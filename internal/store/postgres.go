package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/postgres"
)

const (
	contentHashConstraint = "archive_records_content_hash_key"
	asnConstraint         = "archive_records_asn_key"

	recordColumns = `id, content_hash, COALESCE(archive_hash, ''), original_ref, COALESCE(archive_ref, ''),
		content, title, tags, COALESCE(correspondent, ''), COALESCE(document_type, ''),
		COALESCE(storage_path, ''), mime_type, page_count, COALESCE(asn, ''), task_id,
		original_filename, created_at`
)

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*document.ArchiveRecord, error) {
	var rec document.ArchiveRecord
	err := row.Scan(&rec.ID, &rec.ContentHash, &rec.ArchiveHash, &rec.OriginalRef, &rec.ArchiveRef,
		&rec.Text, &rec.Title, pq.Array(&rec.Tags), &rec.Correspondent, &rec.DocumentType,
		&rec.StoragePath, &rec.MimeType, &rec.PageCount, &rec.ASN, &rec.TaskID,
		&rec.OriginalFilename, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Postgres) LookupByHash(ctx context.Context, hash string) (*document.ArchiveRecord, error) {
	rec, err := scanRecord(p.db.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM archive_records WHERE content_hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hash %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up hash: %w", err)
	}
	return rec, nil
}

func (p *Postgres) Get(ctx context.Context, id int64) (*document.ArchiveRecord, error) {
	rec, err := scanRecord(p.db.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM archive_records WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *Postgres) Commit(ctx context.Context, rec *document.ArchiveRecord, hook CommitHook) (int64, error) {
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO archive_records
				(content_hash, archive_hash, original_ref, archive_ref, content, title, tags,
				 correspondent, document_type, storage_path, mime_type, page_count, asn,
				 task_id, original_filename)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 RETURNING id, created_at`,
			rec.ContentHash, nullable(rec.ArchiveHash), rec.OriginalRef, nullable(rec.ArchiveRef),
			rec.Text, rec.Title, pq.Array(rec.Tags), nullable(rec.Correspondent),
			nullable(rec.DocumentType), nullable(rec.StoragePath), rec.MimeType, rec.PageCount,
			nullable(rec.ASN), rec.TaskID, rec.OriginalFilename,
		).Scan(&rec.ID, &rec.CreatedAt)
		switch {
		case postgres.IsUniqueViolation(err, contentHashConstraint):
			return ErrConflict
		case postgres.IsUniqueViolation(err, asnConstraint):
			return ErrASNConflict
		case err != nil:
			return fmt.Errorf("inserting archive record: %w", err)
		}
		if hook != nil {
			return hook(ctx, rec)
		}
		return nil
	})
	if err != nil {
		rec.ID = 0
		return 0, err
	}
	p.logger.Debug("archive record committed", "id", rec.ID, "hash", rec.ContentHash)
	return rec.ID, nil
}

func (p *Postgres) Delete(ctx context.Context, id int64) error {
	res, err := p.db.DB.ExecContext(ctx, `DELETE FROM archive_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) Each(ctx context.Context, fn func(*document.ArchiveRecord) error) error {
	rows, err := p.db.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM archive_records ORDER BY id`)
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scanning record row: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) List(ctx context.Context, limit, offset int) ([]*document.ArchiveRecord, error) {
	rows, err := p.db.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM archive_records ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()
	out := make([]*document.ArchiveRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping lets the store serve as a health check target.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.db.Ping(ctx)
}

// PostgresTaskLog is the PostgreSQL-backed TaskLog.
type PostgresTaskLog struct {
	db *postgres.Client
}

func NewPostgresTaskLog(db *postgres.Client) *PostgresTaskLog {
	return &PostgresTaskLog{db: db}
}

func (l *PostgresTaskLog) RecordQueued(ctx context.Context, task document.IngestTask) error {
	overrides, err := json.Marshal(task.Overrides)
	if err != nil {
		return fmt.Errorf("encoding overrides: %w", err)
	}
	res, err := l.db.DB.ExecContext(ctx,
		`INSERT INTO ingest_tasks (task_id, source_path, original_filename, overrides, status, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (task_id) DO NOTHING`,
		task.TaskID, task.SourcePath, task.OriginalFilename, overrides, TaskQueued, task.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("recording queued task: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("task %s: %w", task.TaskID, ErrTaskExists)
	}
	return nil
}

func (l *PostgresTaskLog) RecordStarted(ctx context.Context, taskID string, attempt int) error {
	res, err := l.db.DB.ExecContext(ctx,
		`UPDATE ingest_tasks SET status = $2, attempts = $3, started_at = NOW()
		 WHERE task_id = $1 AND outcome IS NULL`,
		taskID, TaskRunning, attempt,
	)
	if err != nil {
		return fmt.Errorf("recording task start: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

func (l *PostgresTaskLog) RecordOutcome(ctx context.Context, out document.TaskOutcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	res, err := l.db.DB.ExecContext(ctx,
		`UPDATE ingest_tasks
		 SET status = $2, reason = $3, message = $4, outcome = $5,
		     attempts = GREATEST(attempts, $6), finished_at = $7
		 WHERE task_id = $1 AND outcome IS NULL`,
		out.TaskID, string(out.Status), nullable(string(out.Reason)), nullable(out.Message),
		payload, out.Attempts, out.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := l.Get(ctx, out.TaskID); err != nil {
			return err
		}
		return fmt.Errorf("task %s: %w", out.TaskID, ErrOutcomeRecorded)
	}
	return nil
}

const taskColumns = `task_id, source_path, original_filename, overrides, status, COALESCE(reason, ''),
	COALESCE(message, ''), outcome, attempts, acknowledged, submitted_at, started_at, finished_at`

func scanTask(row rowScanner) (*TaskEntry, error) {
	var (
		e          TaskEntry
		overrides  []byte
		outcome    []byte
		reason     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(&e.Task.TaskID, &e.Task.SourcePath, &e.Task.OriginalFilename, &overrides,
		&e.Status, &reason, &e.Message, &outcome, &e.Attempts, &e.Acknowledged,
		&e.Task.SubmittedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	e.Reason = apperrors.Reason(reason)
	if err := json.Unmarshal(overrides, &e.Task.Overrides); err != nil {
		return nil, fmt.Errorf("decoding overrides: %w", err)
	}
	if len(outcome) > 0 {
		var o document.TaskOutcome
		if err := json.Unmarshal(outcome, &o); err != nil {
			return nil, fmt.Errorf("decoding outcome: %w", err)
		}
		e.Outcome = &o
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		e.FinishedAt = &finishedAt.Time
	}
	return &e, nil
}

func (l *PostgresTaskLog) Get(ctx context.Context, taskID string) (*TaskEntry, error) {
	e, err := scanTask(l.db.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM ingest_tasks WHERE task_id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return e, nil
}

func (l *PostgresTaskLog) ListByStatus(ctx context.Context, status string, includeAcknowledged bool) ([]TaskEntry, error) {
	rows, err := l.db.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM ingest_tasks
		 WHERE status = $1 AND ($2 OR NOT acknowledged)
		 ORDER BY submitted_at, task_id`,
		status, includeAcknowledged,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()
	var out []TaskEntry
	for rows.Next() {
		e, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (l *PostgresTaskLog) Acknowledge(ctx context.Context, taskID string) error {
	res, err := l.db.DB.ExecContext(ctx,
		`UPDATE ingest_tasks SET acknowledged = TRUE WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("acknowledging task: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

func (l *PostgresTaskLog) Reopen(ctx context.Context, taskID string) (document.IngestTask, error) {
	var task document.IngestTask
	err := l.db.InTx(ctx, func(tx *sql.Tx) error {
		e, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM ingest_tasks WHERE task_id = $1 FOR UPDATE`, taskID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("locking task: %w", err)
		}
		if e.Status != string(document.StatusFailed) {
			return fmt.Errorf("task %s is %s: %w", taskID, e.Status, ErrNotRetriable)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE ingest_tasks
			 SET status = $2, reason = NULL, message = NULL, outcome = NULL,
			     acknowledged = FALSE, finished_at = NULL
			 WHERE task_id = $1`,
			taskID, TaskQueued,
		)
		if err != nil {
			return fmt.Errorf("reopening task: %w", err)
		}
		task = e.Task
		return nil
	})
	return task, err
}
