// Package proto defines the message types exchanged over the internal RPC
// layer (see pkg/rpc) between the upload service and the consumer.
package proto

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
)

// Method names served by the consumer.
const (
	MethodSubmit = "Consumer.Submit"
	MethodStatus = "Consumer.Status"
	MethodCancel = "Consumer.Cancel"
	MethodHealth = "Consumer.Health"
)

// Error codes carried by rpc.Error.
const (
	CodeTaskExists = "task_exists"
	CodeQueueFull  = "queue_full"
	CodeNotFound   = "not_found"
	CodeInvalid    = "invalid"
	CodeClosed     = "closed"
)

// SubmitRequest hands one ingest task to the consumer's queue.
type SubmitRequest struct {
	Task document.IngestTask `json:"task"`
}

type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// TaskRequest names a task for Status and Cancel.
type TaskRequest struct {
	TaskID string `json:"task_id"`
}

// TaskStatus is the task log's view of one task.
type TaskStatus struct {
	TaskID     string                `json:"task_id"`
	Status     string                `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	Message    string                `json:"message,omitempty"`
	Attempts   int                   `json:"attempts"`
	Outcome    *document.TaskOutcome `json:"outcome,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HealthResponse mirrors the gRPC health check statuses.
type HealthResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
	Queued int    `json:"queued"`
}
