// Package document defines the values that flow through the consumption
// pipeline: the immutable IngestTask, the in-flight WorkingDocument, the
// persisted ArchiveRecord and the terminal TaskOutcome.
package document

import (
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// Overrides are caller-supplied metadata that take precedence over anything
// the classifier suggests.
type Overrides struct {
	Title         string   `json:"title,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Correspondent string   `json:"correspondent,omitempty"`
	DocumentType  string   `json:"document_type,omitempty"`
	StoragePath   string   `json:"storage_path,omitempty"`
	ASN           string   `json:"asn,omitempty"`
}

// IngestTask is a request to consume one source file. It is never mutated
// after submission.
type IngestTask struct {
	TaskID           string    `json:"task_id"`
	SourcePath       string    `json:"source_path"`
	OriginalFilename string    `json:"original_filename"`
	Overrides        Overrides `json:"overrides"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// WorkingDocument is a document (or one split-out part of it) in flight.
type WorkingDocument struct {
	Data        []byte
	MimeType    string
	PageCount   int
	ContentHash string
	// Pages are the 1-based page numbers of the source this part came from.
	Pages []int
	// Index is the position of this part in the split result.
	Index int
}

// ArchiveRecord is a committed document.
type ArchiveRecord struct {
	ID               int64     `json:"id"`
	ContentHash      string    `json:"content_hash"`
	ArchiveHash      string    `json:"archive_hash,omitempty"`
	OriginalRef      string    `json:"original_ref"`
	ArchiveRef       string    `json:"archive_ref,omitempty"`
	Text             string    `json:"-"`
	Title            string    `json:"title"`
	Tags             []string  `json:"tags"`
	Correspondent    string    `json:"correspondent,omitempty"`
	DocumentType     string    `json:"document_type,omitempty"`
	StoragePath      string    `json:"storage_path,omitempty"`
	MimeType         string    `json:"mime_type"`
	PageCount        int       `json:"page_count"`
	ASN              string    `json:"asn,omitempty"`
	TaskID           string    `json:"task_id"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// Status is the terminal state of a task or of one split branch.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
)

// StatusFor maps an error to the terminal status it produces. A nil error is
// a success; Fatal errors surface as Failed.
func StatusFor(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if apperrors.KindOf(err) == apperrors.KindRejected {
		return StatusRejected
	}
	return StatusFailed
}

// DocumentOutcome is the result of one split branch.
type DocumentOutcome struct {
	Index           int              `json:"index"`
	Pages           []int            `json:"pages,omitempty"`
	Status          Status           `json:"status"`
	Reason          apperrors.Reason `json:"reason,omitempty"`
	Message         string           `json:"message,omitempty"`
	ArchiveRecordID int64            `json:"archive_record_id,omitempty"`
	ContentHash     string           `json:"content_hash,omitempty"`
}

// TaskOutcome is the single terminal notification for a task.
type TaskOutcome struct {
	TaskID          string            `json:"task_id"`
	Status          Status            `json:"status"`
	Reason          apperrors.Reason  `json:"reason,omitempty"`
	Message         string            `json:"message,omitempty"`
	ArchiveRecordID int64             `json:"archive_record_id,omitempty"`
	Documents       []DocumentOutcome `json:"documents,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	Attempts        int               `json:"attempts"`
	FinishedAt      time.Time         `json:"finished_at"`
	// Err is the classified cause of a non-success outcome. It is not
	// serialised; Reason and Message carry it over the wire.
	Err error `json:"-"`
}

// NewFailure builds a non-success outcome from a classified error.
func NewFailure(taskID string, err error) TaskOutcome {
	return TaskOutcome{
		TaskID:     taskID,
		Status:     StatusFor(err),
		Reason:     apperrors.ReasonOf(err),
		Message:    err.Error(),
		FinishedAt: time.Now().UTC(),
		Err:        err,
	}
}

// Merge folds the branch outcomes into the parent status: Failed if any
// branch failed, otherwise Success if any branch succeeded, otherwise
// Rejected. The reason of a non-success parent is that of its first
// non-success branch of the same status.
func Merge(taskID string, branches []DocumentOutcome) TaskOutcome {
	out := TaskOutcome{TaskID: taskID, Documents: branches, FinishedAt: time.Now().UTC()}
	var failed, rejected *DocumentOutcome
	succeeded := 0
	for i := range branches {
		b := &branches[i]
		switch b.Status {
		case StatusSuccess:
			succeeded++
			if out.ArchiveRecordID == 0 {
				out.ArchiveRecordID = b.ArchiveRecordID
			}
		case StatusFailed:
			if failed == nil {
				failed = b
			}
		case StatusRejected:
			if rejected == nil {
				rejected = b
			}
		}
	}
	switch {
	case failed != nil:
		out.Status, out.Reason, out.Message = StatusFailed, failed.Reason, failed.Message
	case succeeded > 0:
		out.Status = StatusSuccess
	case rejected != nil:
		out.Status, out.Reason, out.Message = StatusRejected, rejected.Reason, rejected.Message
	default:
		out.Status, out.Reason = StatusRejected, apperrors.ReasonEmptyDocument
	}
	return out
}
