// Package ingestion holds the trigger sources of the pipeline: the upload
// endpoint and the consume-directory watcher. Both turn a file on disk into
// an IngestTask and hand it on.
package ingestion

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
)

// Submitter hands an ingest task to the consumer. Implementations are the
// Kafka publisher, the RPC client and, inside the consumer, the pool
// itself.
type Submitter interface {
	Submit(ctx context.Context, task document.IngestTask) (string, error)
}

// UploadResponse is returned to the caller after an upload is accepted.
type UploadResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// SubmitFunc adapts a function, such as a pool's Enqueue, to a Submitter.
type SubmitFunc func(ctx context.Context, task document.IngestTask) (string, error)

func (f SubmitFunc) Submit(ctx context.Context, task document.IngestTask) (string, error) {
	return f(ctx, task)
}
