// Package tools runs the external programs the pipeline depends on
// (pdftoppm, zbarimg, pdftotext, ocrmypdf) behind a small port so the rest of
// the code can be tested without them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrToolTimeout is returned when an invocation exceeds its own timeout.
var ErrToolTimeout = errors.New("external tool timed out")

// Invocation describes one subprocess call.
type Invocation struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result is what a finished subprocess produced.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, e.Stderr)
}

// ExitCode returns the exit status carried by err, or -1.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// Runner executes external tools.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}
