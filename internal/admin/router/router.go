// Package router wires up the consumer's operator routes and applies the
// middleware chain (RequestID → Metrics → CORS → Auth → Timeout).
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/admin/handler"
	adminmw "github.com/Adithya-Monish-Kumar-K/docarchive/internal/admin/middleware"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/middleware"
)

type Config struct {
	Token          string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// New builds the operator HTTP handler.
//
// Route table:
//
//	GET    /health/live                → liveness
//	GET    /health/ready               → readiness (store, redis, tools)
//	GET    /api/v1/tasks               → task log by status (default FAILED)
//	POST   /api/v1/tasks               → enqueue a file on local disk
//	GET    /api/v1/tasks/{id}          → one task log entry
//	POST   /api/v1/tasks/{id}/ack      → acknowledge
//	POST   /api/v1/tasks/{id}/retry    → re-enqueue a failed task
//	POST   /api/v1/tasks/{id}/cancel   → cancel a queued task
//	GET    /api/v1/queue               → pool statistics
//	GET    /api/v1/documents           → list archive records
//	GET    /api/v1/documents/{id}      → one archive record
//	GET    /api/v1/search              → full-text search
//	GET    /api/v1/index/stats         → index statistics
//	GET    /api/v1/stages              → per-stage latency and failure stats
func New(cfg Config, h *handler.Handler, checker *health.Checker, stages http.HandlerFunc, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("GET /api/v1/tasks", h.ListTasks)
	mux.HandleFunc("POST /api/v1/tasks", h.SubmitTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.GetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/ack", h.AcknowledgeTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/retry", h.RetryTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", h.CancelTask)
	mux.HandleFunc("GET /api/v1/queue", h.QueueStats)

	mux.HandleFunc("GET /api/v1/documents", h.ListDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	if stages != nil {
		mux.HandleFunc("GET /api/v1/stages", stages)
	}

	return pkgmw.Chain(pkgmw.Routed(mux),
		pkgmw.RequestID,
		pkgmw.Metrics(m),
		adminmw.CORS(adminmw.DefaultCORSConfig(cfg.CORSOrigins)),
		adminmw.Auth(cfg.Token),
		pkgmw.Timeout(cfg.RequestTimeout),
	)
}
