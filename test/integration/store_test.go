// Package integration verifies the PostgreSQL implementations of the
// archive store and task log against a real database. Tests skip when
// PostgreSQL is unreachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "docarchive_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "docarchive"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func newRecord(taskID string) *document.ArchiveRecord {
	return &document.ArchiveRecord{
		ContentHash:      uuid.NewString(),
		OriginalRef:      "originals/" + taskID + ".pdf",
		Text:             "integration test invoice",
		Title:            "integration " + taskID,
		Tags:             []string{"test"},
		MimeType:         "application/pdf",
		PageCount:        1,
		TaskID:           taskID,
		OriginalFilename: "scan.pdf",
	}
}

func TestCommitLookupDelete(t *testing.T) {
	db := skipIfNoPostgres(t)
	s := store.NewPostgres(db)
	ctx := t.Context()

	rec := newRecord(uuid.NewString())
	id, err := s.Commit(ctx, rec, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	t.Cleanup(func() { s.Delete(context.Background(), id) })
	if rec.ID != id || rec.CreatedAt.IsZero() {
		t.Errorf("commit did not populate record: %+v", rec)
	}

	got, err := s.LookupByHash(ctx, rec.ContentHash)
	if err != nil || got.ID != id || got.Title != rec.Title {
		t.Fatalf("lookup = %+v, %v", got, err)
	}

	dup := newRecord(uuid.NewString())
	dup.ContentHash = rec.ContentHash
	if _, err := s.Commit(ctx, dup, nil); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate hash: %v", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
}

func TestCommitHookRollsBack(t *testing.T) {
	db := skipIfNoPostgres(t)
	s := store.NewPostgres(db)
	ctx := t.Context()

	rec := newRecord(uuid.NewString())
	boom := errors.New("index unavailable")
	_, err := s.Commit(ctx, rec, func(context.Context, *document.ArchiveRecord) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("commit: %v", err)
	}
	if rec.ID != 0 {
		t.Errorf("rolled back record kept id %d", rec.ID)
	}
	if _, err := s.LookupByHash(ctx, rec.ContentHash); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled back record visible: %v", err)
	}
}

func TestTaskLogLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	log := store.NewPostgresTaskLog(db)
	ctx := t.Context()

	task := document.IngestTask{
		TaskID:           uuid.NewString(),
		SourcePath:       "/srv/consume/scan.pdf",
		OriginalFilename: "scan.pdf",
		Overrides:        document.Overrides{Title: "Lease"},
		SubmittedAt:      time.Now().UTC(),
	}
	if err := log.RecordQueued(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordQueued(ctx, task); !errors.Is(err, store.ErrTaskExists) {
		t.Errorf("second RecordQueued: %v", err)
	}
	if err := log.RecordStarted(ctx, task.TaskID, 1); err != nil {
		t.Fatal(err)
	}
	out := document.TaskOutcome{
		TaskID:     task.TaskID,
		Status:     document.StatusFailed,
		Reason:     apperrors.ReasonOcrFailure,
		Message:    "ocr exited 2",
		Attempts:   1,
		FinishedAt: time.Now().UTC(),
	}
	if err := log.RecordOutcome(ctx, out); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordOutcome(ctx, out); !errors.Is(err, store.ErrOutcomeRecorded) {
		t.Errorf("second RecordOutcome: %v", err)
	}

	entry, err := log.Get(ctx, task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != string(document.StatusFailed) || entry.Reason != apperrors.ReasonOcrFailure ||
		entry.Task.Overrides.Title != "Lease" || entry.Outcome == nil {
		t.Errorf("entry = %+v", entry)
	}

	reopened, err := log.Reopen(ctx, task.TaskID)
	if err != nil || reopened.TaskID != task.TaskID {
		t.Fatalf("reopen = %+v, %v", reopened, err)
	}
	if _, err := log.Reopen(ctx, task.TaskID); !errors.Is(err, store.ErrNotRetriable) {
		t.Errorf("reopen of queued task: %v", err)
	}
	if err := log.Acknowledge(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ack of unknown task: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
