// Package resilience holds the fault-tolerance helpers the pipeline wraps
// around its brokers and tools: a circuit breaker in front of Kafka
// publishes, retry with backoff for task attempts and enqueues, and the
// per-task ceiling.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// ErrCircuitOpen is returned without calling the broker while the circuit
// is open. It is an ErrUnavailable, so upload handlers answer 503.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", apperrors.ErrUnavailable)

// State is the phase of a circuit breaker. The numeric values are what the
// circuit_breaker_state gauge exports.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateReporter is told the breaker's state at construction and on every
// transition. *metrics.Metrics implements it.
type StateReporter interface {
	BreakerState(name string, state int)
}

type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive broker failures that
	// opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before one trial
	// publish is let through.
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	Reporter            StateReporter
}

// CircuitBreaker stops publishing to an unreachable broker after
// FailureThreshold consecutive failures, so upload handlers and workers fail
// fast instead of each waiting out the writer's own retries. A publish that
// failed because the caller's context ended says nothing about the broker
// and is not counted.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
	cb.report()
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the circuit is open, and records its result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - time.Since(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.setState(StateHalfOpen)
		cb.trials = 1
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (trial publish in flight)", ErrCircuitOpen, cb.name)
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if cb.state == StateHalfOpen {
			cb.trials--
		}
		return
	}
	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}
	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.open()
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.trials = 0
	cb.setState(StateOpen)
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.logger.Warn("circuit opened, publishes fail fast",
			"from", from.String(),
			"consecutive_failures", cb.failures,
			"reset_after", cb.cfg.ResetTimeout,
		)
	} else {
		cb.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	}
	cb.report()
}

func (cb *CircuitBreaker) report() {
	if cb.cfg.Reporter != nil {
		cb.cfg.Reporter.BreakerState(cb.name, int(cb.state))
	}
}
