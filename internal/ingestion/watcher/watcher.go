// Package watcher polls the consume directory and submits every file that
// has stopped changing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// Suffixes of files that are still being written by other programs.
var tempSuffixes = []string{".tmp", ".part", ".crdownload", ".swp", "~"}

type Config struct {
	Dir      string
	Interval time.Duration
	// StablePolls is how many consecutive polls must see the same size
	// and modification time before a file is submitted.
	StablePolls int
}

type fileState struct {
	size    int64
	modTime time.Time
	polls   int
	// submitted marks the state that was handed on, so the same bytes
	// are not submitted twice while the file stays in place.
	submitted bool
}

type Watcher struct {
	cfg    Config
	submit ingestion.Submitter
	files  map[string]*fileState
	logger *slog.Logger
}

func New(cfg Config, submit ingestion.Submitter) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.StablePolls <= 0 {
		cfg.StablePolls = 2
	}
	return &Watcher{
		cfg:    cfg,
		submit: submit,
		files:  make(map[string]*fileState),
		logger: slog.Default().With("component", "consume-watcher", "dir", cfg.Dir),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return apperrors.Fatal(err, "creating consume dir %s", w.cfg.Dir)
	}
	w.logger.Info("watching consume directory", "interval", w.cfg.Interval)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil {
			w.logger.Error("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll scans the directory once and returns the number of files submitted.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", w.cfg.Dir, err)
	}

	present := make(map[string]bool, len(entries))
	submitted := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || ignored(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		present[name] = true

		st, ok := w.files[name]
		if !ok || st.size != info.Size() || !st.modTime.Equal(info.ModTime()) {
			w.files[name] = &fileState{size: info.Size(), modTime: info.ModTime(), polls: 1}
			st = w.files[name]
		} else {
			st.polls++
		}
		if st.submitted || st.polls < w.cfg.StablePolls {
			continue
		}
		if w.submitFile(ctx, name) {
			st.submitted = true
			submitted++
		}
	}

	for name := range w.files {
		if !present[name] {
			delete(w.files, name)
		}
	}
	return submitted, nil
}

// submitFile reports whether the file was handed on and should not be
// retried on later polls.
func (w *Watcher) submitFile(ctx context.Context, name string) bool {
	path, err := filepath.Abs(filepath.Join(w.cfg.Dir, name))
	if err != nil {
		path = filepath.Join(w.cfg.Dir, name)
	}
	task := document.IngestTask{
		TaskID:           uuid.NewString(),
		SourcePath:       path,
		OriginalFilename: name,
		SubmittedAt:      time.Now().UTC(),
	}
	id, err := w.submit.Submit(ctx, task)
	if err != nil {
		if errors.Is(err, apperrors.ErrQueueFull) {
			w.logger.Warn("queue full, will retry on next poll", "file", name)
			return false
		}
		w.logger.Error("submitting file failed", "file", name, "error", err)
		return false
	}
	w.logger.Info("file submitted", "file", name, "task_id", id)
	return true
}

func ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	lower := strings.ToLower(name)
	for _, s := range tempSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
