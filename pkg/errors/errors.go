// Package errors defines the sentinel errors shared across services and the
// pipeline's error taxonomy: Rejected (input-level, never retried), Failed
// (tool or environment level, retried up to a bound) and Fatal (the process
// cannot do any work until an operator intervenes).
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
	ErrUnavailable      = errors.New("service unavailable")

	ErrUnsupportedType = errors.New("unsupported document type")
	ErrEmptyDocument   = errors.New("empty document")
	ErrDuplicate       = errors.New("duplicate document")
	ErrPageRender      = errors.New("page render failure")
	ErrOcr             = errors.New("ocr failure")
	ErrIndexCommit     = errors.New("index commit failure")
	ErrStorage         = errors.New("storage failure")
	ErrCancelled       = errors.New("task cancelled")
	ErrQueueFull       = errors.New("task queue full")
	ErrFatal           = errors.New("fatal configuration or resource error")
)

// Kind is the coarse class of a pipeline failure.
type Kind int

const (
	KindFailed Kind = iota
	KindRejected
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindFatal:
		return "fatal"
	default:
		return "failed"
	}
}

// Reason is the stable, machine-readable cause carried on a task outcome.
type Reason string

const (
	ReasonUnsupportedType    Reason = "UnsupportedType"
	ReasonEmptyDocument      Reason = "EmptyDocument"
	ReasonDuplicate          Reason = "Duplicate"
	ReasonPageRenderFailure  Reason = "PageRenderFailure"
	ReasonOcrFailure         Reason = "OcrFailure"
	ReasonIndexCommitFailure Reason = "IndexCommitFailure"
	ReasonStorageFailure     Reason = "StorageFailure"
	ReasonCancelled          Reason = "Cancelled"
	ReasonTimeout            Reason = "Timeout"
	ReasonConfiguration      Reason = "Configuration"
	ReasonInternal           Reason = "Internal"
)

var reasonSentinels = map[Reason]error{
	ReasonUnsupportedType:    ErrUnsupportedType,
	ReasonEmptyDocument:      ErrEmptyDocument,
	ReasonDuplicate:          ErrDuplicate,
	ReasonPageRenderFailure:  ErrPageRender,
	ReasonOcrFailure:         ErrOcr,
	ReasonIndexCommitFailure: ErrIndexCommit,
	ReasonStorageFailure:     ErrStorage,
	ReasonCancelled:          ErrCancelled,
	ReasonTimeout:            ErrTimeout,
	ReasonConfiguration:      ErrFatal,
	ReasonInternal:           ErrInternal,
}

// PipelineError classifies an error for the orchestrator and the worker pool.
// errors.Is matches both the reason's sentinel and the wrapped cause.
type PipelineError struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := string(e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := reasonSentinels[e.Reason]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Reject builds a non-retryable, input-level error.
func Reject(reason Reason, cause error, format string, args ...any) error {
	return &PipelineError{Kind: KindRejected, Reason: reason, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Fail builds a retryable, tool- or environment-level error.
func Fail(reason Reason, cause error, format string, args ...any) error {
	return &PipelineError{Kind: KindFailed, Reason: reason, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Fatal builds an error that stops processing until an operator acts.
func Fatal(cause error, format string, args ...any) error {
	return &PipelineError{Kind: KindFatal, Reason: ReasonConfiguration, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf classifies err. Unclassified errors are treated as Failed so that
// they are retried and eventually surfaced rather than dropped.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFailed
}

// ReasonOf returns the outcome reason for err.
func ReasonOf(err error) Reason {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return ReasonTimeout
	}
	return ReasonInternal
}

// Retryable reports whether the worker pool may run the task again.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindFailed
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
