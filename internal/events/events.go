// Package events publishes per-stage pipeline events in batches to Kafka and
// keeps in-process stage statistics for the admin endpoint.
package events

import (
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// StageEvent is emitted when a pipeline stage of a task finishes.
type StageEvent struct {
	TaskID     string           `json:"task_id"`
	Stage      string           `json:"stage"`
	Status     string           `json:"status"`
	Reason     apperrors.Reason `json:"reason,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Timestamp  time.Time        `json:"timestamp"`
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// NewStageEvent classifies err into the event's status and reason.
func NewStageEvent(taskID, stage string, d time.Duration, err error) StageEvent {
	ev := StageEvent{
		TaskID:     taskID,
		Stage:      stage,
		Status:     StatusOK,
		DurationMs: d.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		ev.Status = StatusFailed
		ev.Reason = apperrors.ReasonOf(err)
	}
	return ev
}
