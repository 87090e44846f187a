// Command trainer rebuilds the classification model from the archive.
//
// It reads every committed record from PostgreSQL, trains the per-field
// model, writes the artifact atomically and announces the new version on
// the Kafka model-update topic so running consumers swap it in. Run it
// periodically (cron, Kubernetes CronJob).
//
// Usage:
//
//	go run ./cmd/trainer [-config configs/development.yaml] [-out path]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	out := flag.String("out", "", "model artifact path (default: classifier.modelPath)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	path := *out
	if path == "" {
		path = cfg.Classifier.ModelPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	start := time.Now()
	var recs []*document.ArchiveRecord
	err = store.NewPostgres(db).Each(ctx, func(rec *document.ArchiveRecord) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		slog.Error("failed to read archive records", "error", err)
		os.Exit(1)
	}
	samples := classifier.SamplesFrom(recs, cfg.Consumer.InboxTags)
	if len(samples) == 0 {
		slog.Warn("no documents with text to train on, model left unchanged")
		return
	}

	version := time.Now().UTC().UnixNano()
	model := classifier.Train(samples, version)
	if err := model.Save(path); err != nil {
		slog.Error("failed to save model", "path", path, "error", err)
		os.Exit(1)
	}
	slog.Info("classification model trained",
		"version", version,
		"documents", len(samples),
		"fields", len(model.Fields),
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if !cfg.Kafka.Enabled {
		slog.Info("kafka disabled, consumers pick the model up on their reload interval")
		return
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ModelUpdates)
	defer producer.Close()
	update := queue.ModelUpdate{Version: version, Path: path}
	if err := producer.Publish(ctx, kafka.Event{Key: "model", Type: kafka.TypeModelUpdate, Value: update}); err != nil {
		slog.Error("failed to announce model", "error", err)
		os.Exit(1)
	}
	slog.Info("model update announced", "topic", cfg.Kafka.Topics.ModelUpdates)
}
