package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// summarised are the families shown on the summary page: what an operator
// looks at first when documents stop arriving in the archive.
var summarised = map[string]bool{
	"queue_depth":               true,
	"workers_busy":              true,
	"tasks_total":               true,
	"documents_committed_total": true,
	"duplicates_total":          true,
	"classifier_model_version":  true,
	"circuit_breaker_state":     true,
}

// StartServer serves the Prometheus exposition at /metrics and a plain-text
// pipeline summary at / on port. It returns the server's Shutdown.
func StartServer(port int) (shutdown func(context.Context) error) {
	return start(port, prometheus.DefaultGatherer)
}

func start(port int, g prometheus.Gatherer) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", summaryHandler(g))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server.Shutdown
}

// summaryHandler prints the current queue, worker, outcome and breaker
// values one per line, in the exposition's name{labels} value form.
func summaryHandler(g prometheus.Gatherer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := g.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var lines []string
		for _, mf := range families {
			if !summarised[mf.GetName()] {
				continue
			}
			for _, m := range mf.GetMetric() {
				var value float64
				switch {
				case m.GetGauge() != nil:
					value = m.GetGauge().GetValue()
				case m.GetCounter() != nil:
					value = m.GetCounter().GetValue()
				default:
					continue
				}
				var labels []string
				for _, lp := range m.GetLabel() {
					labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
				}
				name := mf.GetName()
				if len(labels) > 0 {
					name += "{" + strings.Join(labels, ",") + "}"
				}
				lines = append(lines, fmt.Sprintf("%s %g", name, value))
			}
		}
		sort.Strings(lines)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "# docarchive pipeline summary, full exposition at /metrics")
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}
}
