package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		reason    Reason
		sentinel  error
		retryable bool
	}{
		{"duplicate", Reject(ReasonDuplicate, nil, "hash %s", "ab"), KindRejected, ReasonDuplicate, ErrDuplicate, false},
		{"ocr", Fail(ReasonOcrFailure, io.ErrUnexpectedEOF, "two attempts"), KindFailed, ReasonOcrFailure, ErrOcr, true},
		{"fatal", Fatal(nil, "no workers"), KindFatal, ReasonConfiguration, ErrFatal, false},
		{"wrapped", fmt.Errorf("branch 2: %w", Reject(ReasonEmptyDocument, nil, "")), KindRejected, ReasonEmptyDocument, ErrEmptyDocument, false},
		{"plain", io.ErrClosedPipe, KindFailed, ReasonInternal, io.ErrClosedPipe, true},
		{"deadline", fmt.Errorf("task: %w", context.DeadlineExceeded), KindFailed, ReasonTimeout, context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %v, want %v", got, tt.kind)
			}
			if got := ReasonOf(tt.err); got != tt.reason {
				t.Errorf("ReasonOf = %v, want %v", got, tt.reason)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := Retryable(tt.err); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestCauseIsPreserved(t *testing.T) {
	err := Fail(ReasonIndexCommitFailure, io.ErrShortWrite, "doc %d", 7)
	if !errors.Is(err, io.ErrShortWrite) || !errors.Is(err, ErrIndexCommit) {
		t.Fatalf("expected both sentinel and cause to match: %v", err)
	}
	want := "IndexCommitFailure: doc 7: short write"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(ErrInvalidInput, http.StatusUnprocessableEntity, "bad"), http.StatusUnprocessableEntity},
		{ErrDocumentNotFound, http.StatusNotFound},
		{Reject(ReasonUnsupportedType, nil, "text/x-foo"), http.StatusBadRequest},
		{ErrQueueFull, http.StatusTooManyRequests},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatusCode(c.err); got != c.want {
			t.Errorf("HTTPStatusCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
