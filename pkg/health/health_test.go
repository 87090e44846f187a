package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestRunAggregatesWorstStatus(t *testing.T) {
	refused := fakePinger{err: errors.New("refused")}
	denied := DirCheck(func() error { return errors.New("permission denied") })
	tests := []struct {
		name     string
		critical map[string]Check
		optional map[string]Check
		want     Status
	}{
		{"all up", map[string]Check{ComponentPostgres: PingCheck(fakePinger{})}, nil, StatusUp},
		{"degraded dir", map[string]Check{ComponentPostgres: PingCheck(fakePinger{})},
			map[string]Check{ComponentConsumeDir: denied}, StatusDegraded},
		{"optional down only degrades", map[string]Check{ComponentPostgres: PingCheck(fakePinger{})},
			map[string]Check{ComponentRedis: PingCheck(refused)}, StatusDegraded},
		{"critical down wins", map[string]Check{ComponentPostgres: PingCheck(refused)},
			map[string]Check{ComponentConsumeDir: denied}, StatusDown},
		{"missing binary", map[string]Check{ComponentTools: BinaryCheck("definitely-not-a-real-binary-xyz")}, nil, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for n, ch := range tt.critical {
				c.Critical(n, ch)
			}
			for n, ch := range tt.optional {
				c.Optional(n, ch)
			}
			if got := c.Run(context.Background()).Status; got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		register func(c *Checker)
		want     int
	}{
		{"store down", func(c *Checker) {
			c.Critical(ComponentPostgres, PingCheck(fakePinger{err: errors.New("refused")}))
		}, http.StatusServiceUnavailable},
		{"redis down", func(c *Checker) {
			c.Critical(ComponentPostgres, PingCheck(fakePinger{}))
			c.Optional(ComponentRedis, PingCheck(fakePinger{err: errors.New("refused")}))
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.register(c)
			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d", rec.Code, tt.want)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatal(err)
			}
			for name, comp := range report.Components {
				if comp.Status != StatusUp && comp.Message != "refused" {
					t.Errorf("%s = %+v", name, comp)
				}
			}
		})
	}
}

func TestBreakerCheck(t *testing.T) {
	b := resilience.NewCircuitBreaker("outcomes", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	check := BreakerCheck(b)
	if got := check(context.Background()).Status; got != StatusUp {
		t.Fatalf("closed breaker = %v", got)
	}
	b.Execute(func() error { return errors.New("broker unreachable") })

	c := NewChecker()
	c.Optional(ComponentOutcomes, check)
	report := c.Run(context.Background())
	if report.Status != StatusDegraded || report.Components[ComponentOutcomes].Critical {
		t.Errorf("open outcomes circuit: %+v", report)
	}
}
