package tools

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil, nil)
	res, err := r.Run(context.Background(), Invocation{Name: "sh", Args: []string{"-c", "echo hello; echo oops >&2"}, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != "hello\n" || string(res.Stderr) != "oops\n" {
		t.Errorf("stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestExecRunnerExitError(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil, nil)
	_, err := r.Run(context.Background(), Invocation{Name: "sh", Args: []string{"-c", "echo bad >&2; exit 4"}})
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if ee.Code != 4 || ExitCode(err) != 4 {
		t.Errorf("code = %d", ee.Code)
	}
}

func TestExecRunnerTimeoutKillsProcessGroup(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(nil, nil)
	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Name: "sh", Args: []string{"-c", "sleep 30 & sleep 30"}, Timeout: 100 * time.Millisecond})
	if !errors.Is(err, ErrToolTimeout) {
		t.Fatalf("expected ErrToolTimeout, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestExecRunnerBinaryMapping(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(map[string]string{"greeter": "sh"}, nil)
	res, err := r.Run(context.Background(), Invocation{Name: "greeter", Args: []string{"-c", "printf hi"}})
	if err != nil || string(res.Stdout) != "hi" {
		t.Fatalf("res=%q err=%v", res.Stdout, err)
	}
}

func TestFakeRunner(t *testing.T) {
	f := NewFakeRunner().
		On("zbarimg", Exit("zbarimg", 4, "")).
		On("ocrmypdf", Sequence(Timeout("ocrmypdf"), Stdout("done")))
	ctx := context.Background()

	if _, err := f.Run(ctx, Invocation{Name: "zbarimg"}); ExitCode(err) != 4 {
		t.Errorf("zbarimg exit = %d", ExitCode(err))
	}
	if _, err := f.Run(ctx, Invocation{Name: "ocrmypdf"}); !errors.Is(err, ErrToolTimeout) {
		t.Errorf("first ocrmypdf call: %v", err)
	}
	if res, err := f.Run(ctx, Invocation{Name: "ocrmypdf"}); err != nil || string(res.Stdout) != "done" {
		t.Errorf("second ocrmypdf call: %q %v", res.Stdout, err)
	}
	if _, err := f.Run(ctx, Invocation{Name: "unknown"}); err == nil {
		t.Error("expected error for unscripted tool")
	}
	if n := len(f.Calls("ocrmypdf")); n != 2 {
		t.Errorf("ocrmypdf calls = %d", n)
	}
	if n := len(f.Calls("")); n != 4 {
		t.Errorf("total calls = %d", n)
	}
}
