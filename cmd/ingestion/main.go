// Command ingestion starts the document upload HTTP service.
//
// The service accepts documents via POST /api/v1/documents, validates
// them, writes them atomically into the upload directory and hands an
// ingest task to the consumer: on the Kafka ingest topic, or over the
// consumer's task RPC when Kafka is disabled. Uploads are rate limited per
// client. Health is served at GET /health.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service",
		"port", cfg.Ingestion.Port,
		"upload_dir", cfg.Ingestion.UploadDir,
	)

	m := metrics.New()

	var sub ingestion.Submitter
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Ingest)
		defer producer.Close()
		breaker := resilience.NewCircuitBreaker("ingest-publish", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			Reporter:         m,
		})
		sub = publisher.NewKafka(producer, breaker)
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.Ingest)
	} else {
		client := rpc.NewClient(cfg.Ingestion.RPCAddr)
		defer client.Close()
		sub = publisher.NewRPC(client)
		slog.Info("submitting tasks over rpc", "addr", cfg.Ingestion.RPCAddr)
	}

	h := handler.New(sub, cfg.Ingestion.UploadDir, cfg.Server.MaxUploadBytes)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/documents", h.Upload)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	limiter := middleware.NewLimiter(cfg.Server.UploadRate, cfg.Server.UploadBurst)
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Ingestion.Port),
		Handler: middleware.Chain(middleware.Routed(mux),
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.RateLimit(limiter),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
