// Package health answers the consumer's liveness and readiness checks.
//
// Components are registered as critical or optional. A critical component
// that is down (the record store, the OCR and rasteriser binaries) means no
// document can be processed, so the service is not ready. An optional one
// that is down (the shared Redis claim layer, the outcomes publisher) only
// degrades the service: tasks still run, with in-process claims or with
// outcomes kept in the task log alone.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
)

// Component names used by the consumer.
const (
	ComponentPostgres   = "postgres"
	ComponentRedis      = "redis"
	ComponentTools      = "tools"
	ComponentConsumeDir = "consume_dir"
	ComponentOutcomes   = "outcomes_publisher"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check reports on one component.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type component struct {
	check    Check
	critical bool
}

type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	last       Status
	logger     *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]component),
		last:       StatusUp,
		logger:     slog.Default().With("component", "health"),
	}
}

// Critical registers a component the pipeline cannot work without.
func (c *Checker) Critical(name string, check Check) {
	c.register(name, check, true)
}

// Optional registers a component whose loss degrades the pipeline but does
// not stop it.
func (c *Checker) Optional(name string, check Check) {
	c.register(name, check, false)
}

func (c *Checker) register(name string, check Check, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{check: check, critical: critical}
}

// Run checks every component concurrently. The report is down if a critical
// component is down, degraded if anything else is not up.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	components := make(map[string]component, len(c.components))
	for name, comp := range c.components {
		components[name] = comp
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(components)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result := comp.check(ctx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			result.Critical = comp.critical
			if !comp.critical && result.Status == StatusDown {
				result.Status = StatusDegraded
			}
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	c.noteTransition(report)
	return report
}

func (c *Checker) noteTransition(report Report) {
	c.mu.Lock()
	from := c.last
	c.last = report.Status
	c.mu.Unlock()
	if from == report.Status {
		return
	}
	var failing []string
	for name, comp := range report.Components {
		if comp.Status != StatusUp {
			failing = append(failing, name)
		}
	}
	if report.Status == StatusUp {
		c.logger.Info("pipeline healthy again", "from", from)
		return
	}
	c.logger.Warn("pipeline health changed", "from", from, "to", report.Status, "components", failing)
}

func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 200 while the pipeline can take work, degraded
// included, and 503 once a critical component is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// Pinger is satisfied by the postgres and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := p.Ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// BinaryCheck reports the external tools (ocrmypdf, pdftotext, pdftoppm,
// zbarimg) missing from PATH.
func BinaryCheck(binaries ...string) Check {
	return func(ctx context.Context) ComponentHealth {
		var missing []string
		for _, b := range binaries {
			if _, err := exec.LookPath(b); err != nil {
				missing = append(missing, b)
			}
		}
		if len(missing) > 0 {
			return ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("missing binaries: %v", missing)}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// DirCheck reports a directory the pipeline reads as degraded when stat
// fails.
func DirCheck(stat func() error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := stat(); err != nil {
			return ComponentHealth{Status: StatusDegraded, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// BreakerCheck reports a publisher as down while its circuit is open and
// degraded while a trial publish decides whether it closes.
func BreakerCheck(b *resilience.CircuitBreaker) Check {
	return func(ctx context.Context) ComponentHealth {
		switch state := b.GetState(); state {
		case resilience.StateOpen:
			return ComponentHealth{Status: StatusDown, Message: b.Name() + " circuit open"}
		case resilience.StateHalfOpen:
			return ComponentHealth{Status: StatusDegraded, Message: b.Name() + " circuit half-open"}
		default:
			return ComponentHealth{Status: StatusUp}
		}
	}
}
