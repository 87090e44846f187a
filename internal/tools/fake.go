package tools

import (
	"context"
	"fmt"
	"sync"
)

// Script answers a fake invocation.
type Script func(ctx context.Context, inv Invocation) (Result, error)

// FakeRunner is a scriptable Runner for tests. Each tool name maps to a
// Script; every call is recorded.
type FakeRunner struct {
	mu      sync.Mutex
	scripts map[string]Script
	calls   []Invocation
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{scripts: make(map[string]Script)}
}

// On installs the script for a tool name, replacing any previous one.
func (f *FakeRunner) On(name string, s Script) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = s
	return f
}

func (f *FakeRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	s, ok := f.scripts[inv.Name]
	f.mu.Unlock()
	if !ok {
		return Result{ExitCode: 127}, fmt.Errorf("starting %s: no fake script installed", inv.Name)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s(ctx, inv)
}

// Calls returns a copy of the recorded invocations, optionally filtered by
// tool name.
func (f *FakeRunner) Calls(name string) []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Invocation
	for _, c := range f.calls {
		if name == "" || c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Stdout is a script that succeeds and prints out.
func Stdout(out string) Script {
	return func(context.Context, Invocation) (Result, error) {
		return Result{Stdout: []byte(out)}, nil
	}
}

// Exit is a script that fails with the given status.
func Exit(tool string, code int, stderr string) Script {
	return func(context.Context, Invocation) (Result, error) {
		return Result{ExitCode: code, Stderr: []byte(stderr)}, &ExitError{Tool: tool, Code: code, Stderr: stderr}
	}
}

// Timeout is a script that behaves like an invocation that hit its deadline.
func Timeout(tool string) Script {
	return func(context.Context, Invocation) (Result, error) {
		return Result{ExitCode: -1}, fmt.Errorf("%s: %w", tool, ErrToolTimeout)
	}
}

// Sequence runs the scripts in order, repeating the last one.
func Sequence(scripts ...Script) Script {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, inv Invocation) (Result, error) {
		mu.Lock()
		s := scripts[i]
		if i < len(scripts)-1 {
			i++
		}
		mu.Unlock()
		return s(ctx, inv)
	}
}
