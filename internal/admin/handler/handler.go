// Package handler implements the operator HTTP API of the consumer: task
// log inspection and acknowledgement, retry and cancellation of tasks,
// archive record lookup and search.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
)

// Queue is the part of the worker pool the operator API drives.
type Queue interface {
	Enqueue(ctx context.Context, task document.IngestTask) (string, error)
	Cancel(ctx context.Context, taskID string) bool
	Retry(ctx context.Context, taskID string) error
	Stats() queue.Stats
}

// Searcher is the read side of the search index.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*search.Result, error)
	Stats() indexer.Stats
}

type Handler struct {
	queue   Queue
	tasks   store.TaskLog
	records store.Store
	index   Searcher
	logger  *slog.Logger
}

func New(q Queue, tasks store.TaskLog, records store.Store, index Searcher) *Handler {
	return &Handler{
		queue:   q,
		tasks:   tasks,
		records: records,
		index:   index,
		logger:  slog.Default().With("component", "admin-handler"),
	}
}

// ---------- Tasks ----------

// ListTasks returns task log entries with the given status (FAILED by
// default). Acknowledged entries are included with all=true.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(r.URL.Query().Get("status"))
	if status == "" {
		status = string(document.StatusFailed)
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	entries, err := h.tasks.ListByStatus(r.Context(), status, all)
	if err != nil {
		h.logger.Error("failed to list tasks", "status", status, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if entries == nil {
		entries = []store.TaskEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tasks":  entries,
		"count":  len(entries),
		"status": status,
	})
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	entry, err := h.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err, "task")
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// SubmitTask enqueues a file that is already on the consumer's disk.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var task document.IngestTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if task.SourcePath == "" {
		h.writeError(w, http.StatusBadRequest, "source_path is required")
		return
	}
	id, err := h.queue.Enqueue(r.Context(), task)
	switch {
	case errors.Is(err, store.ErrTaskExists):
		h.writeError(w, http.StatusConflict, "task already submitted")
		return
	case err != nil:
		h.logger.Error("failed to enqueue task", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *Handler) AcknowledgeTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.tasks.Acknowledge(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "task")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "acknowledged"})
}

func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.queue.Retry(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotRetriable):
		h.writeError(w, http.StatusConflict, "only failed tasks can be retried")
		return
	case err != nil:
		h.writeStoreError(w, err, "task")
		return
	}
	logger.FromContext(r.Context()).Info("task retry requested", "task_id", id)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "queued"})
}

// CancelTask only succeeds while the task is still waiting for a worker.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.queue.Cancel(r.Context(), id) {
		h.writeError(w, http.StatusConflict, "task is not queued")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "cancelled"})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.queue.Stats())
}

// ---------- Documents ----------

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	rec, err := h.records.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "document")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// ListDocuments returns a page of archive records, newest first.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	docs, err := h.records.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list documents", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
		"limit":     limit,
		"offset":    offset,
	})
}

// Search returns the records matching q, best match first. q accepts AND,
// OR and NOT.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	res, err := h.index.Search(r.Context(), q, limit)
	if err != nil {
		h.logger.Error("search failed", "query", q, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "search failed")
		return
	}
	type hit struct {
		Score    float64                 `json:"score"`
		Document *document.ArchiveRecord `json:"document"`
	}
	hits := make([]hit, 0, len(res.Hits))
	for _, sh := range res.Hits {
		id, err := strconv.ParseInt(sh.DocID, 10, 64)
		if err != nil {
			continue
		}
		rec, err := h.records.Get(r.Context(), id)
		if err != nil {
			// Indexed but deleted since; the tombstone is written after the row goes.
			h.logger.Debug("search hit without record", "id", id, "error", err)
			continue
		}
		hits = append(hits, hit{Score: sh.Score, Document: rec})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":      q,
		"hits":       hits,
		"total":      res.TotalHits,
		"term_stats": res.TermStats,
	})
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

// ---------- Helpers ----------

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.logger.Error("store request failed", "what", what, "error", err)
	h.writeError(w, apperrors.HTTPStatusCode(err), "failed to load "+what)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
