// Package handler implements the upload endpoint. An upload is validated,
// written atomically into the upload directory and handed to the consumer
// as an IngestTask.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
)

const (
	formFile       = "document"
	maxMemory      = 8 << 20
	sniffLen       = 512
	multipartSlack = 1 << 20
)

type Handler struct {
	submitter ingestion.Submitter
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger
}

func New(sub ingestion.Submitter, uploadDir string, maxBytes int64) *Handler {
	return &Handler{
		submitter: sub,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		logger:    slog.Default().With("component", "upload-handler"),
	}
}

// Upload accepts a multipart form with the file in "document" and optional
// metadata fields: title, tags (repeatable), correspondent, document_type,
// storage_path and archive_serial_number.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartSlack)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formFile)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing form file \"document\"")
		return
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}
	overrides := overridesFrom(r.MultipartForm)
	mime, err := validator.ValidateUpload(validator.Upload{
		Filename:  header.Filename,
		Size:      header.Size,
		Head:      head[:n],
		Overrides: overrides,
	}, h.maxBytes)
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	task := document.IngestTask{
		TaskID:           uuid.NewString(),
		OriginalFilename: filepath.Base(header.Filename),
		Overrides:        overrides,
		SubmittedAt:      time.Now().UTC(),
	}
	path, err := h.store(file, task.TaskID+document.Extension(mime))
	if err != nil {
		log.Error("failed to store upload", "error", err)
		h.writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	task.SourcePath = path

	id, err := h.submitter.Submit(ctx, task)
	if err != nil {
		os.Remove(path)
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, publisher.ErrTaskExists) {
			status = http.StatusConflict
		}
		log.Error("submitting task failed",
			"task_id", task.TaskID,
			"error", err,
			"status_code", status,
		)
		h.writeError(w, status, "could not queue document")
		return
	}
	log.Info("document accepted",
		"task_id", id,
		"file", task.OriginalFilename,
		"mime_type", mime,
		"size", header.Size,
	)
	h.writeJSON(w, http.StatusAccepted, ingestion.UploadResponse{
		TaskID:   id,
		Status:   "QUEUED",
		Filename: task.OriginalFilename,
		MimeType: mime,
		Size:     header.Size,
	})
}

// store copies src into the upload directory under name. The file becomes
// visible under its final name only once it is complete.
func (h *Handler) store(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(h.uploadDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}
	final := filepath.Join(h.uploadDir, name)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("publishing upload: %w", err)
	}
	abs, err := filepath.Abs(final)
	if err != nil {
		return final, nil
	}
	return abs, nil
}

func overridesFrom(form *multipart.Form) document.Overrides {
	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	var tags []string
	for _, raw := range form.Value["tags"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return document.Overrides{
		Title:         get("title"),
		Tags:          tags,
		Correspondent: get("correspondent"),
		DocumentType:  get("document_type"),
		StoragePath:   get("storage_path"),
		ASN:           get("archive_serial_number"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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
