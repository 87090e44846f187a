// Package middleware provides the HTTP middleware shared by the upload
// service and the operator API: request ids, Prometheus metrics, per-client
// upload rate limits and request timeouts.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
)

// unmatched labels requests no route accepted, so scans for random paths do
// not each add a series.
const unmatched = "unmatched"

type routeKey struct{}

// Metrics records request count, latency and in-flight requests. Requests
// are labelled by the route pattern that served them ("/api/v1/tasks/{id}"),
// which Routed reports from inside the chain.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			route := new(atomic.Pointer[string])
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), routeKey{}, route)))

			path := unmatched
			if p := route.Load(); p != nil {
				path = *p
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// Routed wraps the ServeMux itself and hands the matched pattern back to
// Metrics. Middleware in between may replace the request freely.
func Routed(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		route, ok := r.Context().Value(routeKey{}).(*atomic.Pointer[string])
		if !ok || r.Pattern == "" {
			return
		}
		pattern := r.Pattern
		if i := strings.IndexByte(pattern, ' '); i >= 0 {
			pattern = pattern[i+1:]
		}
		route.Store(&pattern)
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}
