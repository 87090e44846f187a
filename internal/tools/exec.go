package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
)

// maxStderr bounds how much stderr is carried on an ExitError.
const maxStderr = 2048

// ExecRunner runs tools with os/exec. Every invocation gets its own
// deadline; on expiry the whole process group is killed.
type ExecRunner struct {
	// Binaries maps a logical tool name to the executable to run. Names
	// without an entry are executed as-is.
	Binaries map[string]string
	Metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewExecRunner(binaries map[string]string, m *metrics.Metrics) *ExecRunner {
	return &ExecRunner{
		Binaries: binaries,
		Metrics:  m,
		logger:   slog.Default().With("component", "tools"),
	}
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}
	bin := inv.Name
	if b, ok := r.Binaries[inv.Name]; ok && b != "" {
		bin = b
	}
	cmd := exec.CommandContext(ctx, bin, inv.Args...)
	cmd.Dir = inv.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		err = fmt.Errorf("%s after %v: %w", inv.Name, inv.Timeout, ErrToolTimeout)
	case ctx.Err() != nil:
		outcome = "cancelled"
		err = fmt.Errorf("%s: %w", inv.Name, ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome = "exit"
			err = &ExitError{Tool: inv.Name, Code: exitErr.ExitCode(), Stderr: truncate(stderr.String(), maxStderr)}
		} else {
			outcome = "error"
			err = fmt.Errorf("starting %s: %w", inv.Name, err)
		}
	}
	r.Metrics.ObserveTool(inv.Name, outcome, res.Duration)
	r.logger.Debug("tool finished",
		"tool", inv.Name,
		"result", outcome,
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
