package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion/publisher"
)

var pdf = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

type recordingSubmitter struct {
	err   error
	tasks []document.IngestTask
}

func (s *recordingSubmitter) Submit(_ context.Context, task document.IngestTask) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.tasks = append(s.tasks, task)
	return task.TaskID, nil
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			mw.WriteField(k, v)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("document", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func upload(h *Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.Upload(rr, req)
	return rr
}

func TestUploadQueuesTask(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	h := New(sub, dir, 1<<20)

	body, ct := multipartBody(t, "invoice.pdf", pdf, map[string][]string{
		"title":                 {"March invoice"},
		"tags":                  {"finance, 2024", "paid"},
		"correspondent":         {"ACME"},
		"archive_serial_number": {"42"},
	})
	rr := upload(h, body, ct)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d %s", rr.Code, rr.Body)
	}
	var resp ingestion.UploadResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.TaskID == "" || resp.MimeType != document.MimePDF || resp.Filename != "invoice.pdf" {
		t.Errorf("response = %+v", resp)
	}

	if len(sub.tasks) != 1 {
		t.Fatalf("submitted %d tasks", len(sub.tasks))
	}
	task := sub.tasks[0]
	if task.OriginalFilename != "invoice.pdf" || task.Overrides.Title != "March invoice" || task.Overrides.ASN != "42" {
		t.Errorf("task = %+v", task)
	}
	if got := task.Overrides.Tags; len(got) != 3 || got[0] != "finance" || got[2] != "paid" {
		t.Errorf("tags = %v", got)
	}
	data, err := os.ReadFile(task.SourcePath)
	if err != nil || !bytes.Equal(data, pdf) {
		t.Errorf("stored file: %v", err)
	}
	if filepath.Ext(task.SourcePath) != ".pdf" {
		t.Errorf("source path = %s", task.SourcePath)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("upload dir holds %d entries, temp files left behind?", len(entries))
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		want     int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"empty file", "empty.pdf", nil, http.StatusBadRequest},
		{"unsupported", "notes.txt", []byte("plain text notes"), http.StatusBadRequest},
		{"too large", "big.pdf", append(append([]byte{}, pdf...), bytes.Repeat([]byte("x"), 4096)...), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			sub := &recordingSubmitter{}
			h := New(sub, dir, 1024)
			body, ct := multipartBody(t, tt.filename, tt.content, nil)
			if rr := upload(h, body, ct); rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body)
			}
			if len(sub.tasks) != 0 {
				t.Error("rejected upload was submitted")
			}
			if entries, _ := os.ReadDir(dir); len(entries) != 0 {
				t.Errorf("rejected upload left %d files", len(entries))
			}
		})
	}
}

func TestUploadSubmitFailureRemovesFile(t *testing.T) {
	dir := t.TempDir()
	h := New(&recordingSubmitter{err: publisher.ErrTaskExists}, dir, 1<<20)
	body, ct := multipartBody(t, "scan.pdf", pdf, nil)
	if rr := upload(h, body, ct); rr.Code != http.StatusConflict {
		t.Errorf("status = %d", rr.Code)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("file kept after failed submit")
	}

	h = New(&recordingSubmitter{err: errors.New("boom")}, dir, 1<<20)
	body, ct = multipartBody(t, "scan.pdf", pdf, nil)
	if rr := upload(h, body, ct); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
}
