package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the per-stage latency window.
const maxSamples = 10000

// StageStats summarises one stage.
type StageStats struct {
	Stage        string        `json:"stage"`
	Count        int64         `json:"count"`
	Failures     int64         `json:"failures"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
	P50LatencyMs int64         `json:"p50_latency_ms"`
	P95LatencyMs int64         `json:"p95_latency_ms"`
	P99LatencyMs int64         `json:"p99_latency_ms"`
	TopReasons   []ReasonCount `json:"top_reasons,omitempty"`
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// Snapshot is the aggregator's view served at the admin endpoint.
type Snapshot struct {
	Stages        []StageStats `json:"stages"`
	EventsPerMin  float64      `json:"events_per_minute"`
	TotalEvents   int64        `json:"total_events"`
	UptimeSeconds int64        `json:"uptime_seconds"`
}

type stageAgg struct {
	count     int64
	failures  int64
	latencies []int64
	reasons   map[string]int64
}

// Aggregator keeps in-process statistics per stage.
type Aggregator struct {
	mu        sync.RWMutex
	stages    map[string]*stageAgg
	total     int64
	startTime time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stages:    make(map[string]*stageAgg),
		startTime: time.Now(),
	}
}

func (a *Aggregator) Record(ev StageEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stages[ev.Stage]
	if s == nil {
		s = &stageAgg{latencies: make([]int64, 0, 64), reasons: make(map[string]int64)}
		a.stages[ev.Stage] = s
	}
	a.total++
	s.count++
	if len(s.latencies) >= maxSamples {
		s.latencies = s.latencies[1:]
	}
	s.latencies = append(s.latencies, ev.DurationMs)
	if ev.Status == StatusFailed {
		s.failures++
		s.reasons[string(ev.Reason)]++
	}
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		TotalEvents:   a.total,
		UptimeSeconds: int64(time.Since(a.startTime).Seconds()),
		Stages:        make([]StageStats, 0, len(a.stages)),
	}
	for name, s := range a.stages {
		st := StageStats{Stage: name, Count: s.count, Failures: s.failures}
		if len(s.latencies) > 0 {
			sorted := make([]int64, len(s.latencies))
			copy(sorted, s.latencies)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var sum int64
			for _, l := range sorted {
				sum += l
			}
			st.AvgLatencyMs = float64(sum) / float64(len(sorted))
			st.P50LatencyMs = percentile(sorted, 50)
			st.P95LatencyMs = percentile(sorted, 95)
			st.P99LatencyMs = percentile(sorted, 99)
		}
		st.TopReasons = topN(s.reasons, 5)
		snap.Stages = append(snap.Stages, st)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		snap.EventsPerMin = float64(a.total) / elapsed
	}
	return snap
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []ReasonCount {
	result := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		result = append(result, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Reason < result[j].Reason
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

// Handler serves the aggregator snapshot as JSON.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "stage-stats-handler"),
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to write stage stats response", "error", err)
	}
}
