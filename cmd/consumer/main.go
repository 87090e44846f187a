// Command consumer runs the document consumption pipeline.
//
// Tasks arrive from the Kafka ingest topic, from the task RPC used by the
// upload service when Kafka is disabled, from the consume-directory
// watcher and from the operator API. A fixed pool of workers splits each
// document on separator barcodes, OCRs it, classifies it and commits it to
// PostgreSQL and the search index. Outcomes go to the task log and the
// Kafka outcomes topic.
//
// Usage:
//
//	go run ./cmd/consumer [-config configs/development.yaml] [-memory]
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

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/admin/handler"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/admin/router"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/barcode"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/consumer"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/dedup"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/events"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ingestion/watcher"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ocr"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/tools"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	memory := flag.Bool("memory", false, "keep records and the task log in memory (development only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting consumer service",
		"workers", cfg.Consumer.Workers,
		"ocr_mode", cfg.OCR.Mode,
		"storage", cfg.Storage.Backend,
		"kafka", cfg.Kafka.Enabled,
	)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Workers and the event collector outlive the signal so running tasks
	// can finish during shutdown.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	checker := health.NewChecker()

	// Records and task log.
	var records store.Store
	var tasks store.TaskLog
	if *memory {
		slog.Warn("using in-memory store, nothing survives a restart")
		records = store.NewMemory()
		tasks = store.NewMemoryTaskLog()
	} else {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to postgres")
		records = store.NewPostgres(db)
		tasks = store.NewPostgresTaskLog(db)
		checker.Critical(health.ComponentPostgres, health.PingCheck(db))
	}

	// Duplicate claims: in-process always, Redis when several consumers
	// share one archive.
	claimer := dedup.Chain{dedup.NewMemoryClaimer()}
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
		claimer = append(claimer, dedup.NewRedisClaimer(rc, "", cfg.Consumer.TaskTimeout, redis.IsNilError))
		checker.Optional(health.ComponentRedis, health.PingCheck(rc))
	}

	originals, archive, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	engine, err := indexer.NewEngine(cfg.Index, m)
	if err != nil {
		slog.Error("failed to open search index", "error", err)
		os.Exit(1)
	}
	engine.StartFlushLoop(workCtx)

	rules, err := classifier.LoadRules(cfg.Classifier.RulesFile)
	if err != nil {
		slog.Error("failed to load classification rules", "error", err)
		os.Exit(1)
	}
	holder := classifier.NewHolder(m)
	if _, err := holder.ReloadFrom(cfg.Classifier.ModelPath); err != nil {
		slog.Warn("no classification model loaded, rules only", "path", cfg.Classifier.ModelPath, "error", err)
	}
	cls := classifier.New(rules, holder, cfg.Classifier.MinScore, cfg.Consumer.InboxTags)
	slog.Info("classifier ready", "rules", rules.Len())

	binaries := map[string]string{
		"ocrmypdf":  cfg.OCR.OCRMyPDFBinary,
		"pdftotext": cfg.OCR.PDFToTextBinary,
		"pdftoppm":  cfg.Barcode.PDFToPPMBinary,
		"zbarimg":   cfg.Barcode.ZBarImgBinary,
	}
	runner := tools.NewExecRunner(binaries, m)
	required := []string{cfg.OCR.OCRMyPDFBinary, cfg.OCR.PDFToTextBinary}
	if cfg.Barcode.Enabled {
		required = append(required, cfg.Barcode.PDFToPPMBinary, cfg.Barcode.ZBarImgBinary)
	}
	checker.Critical(health.ComponentTools, health.BinaryCheck(required...))
	checker.Optional(health.ComponentConsumeDir, health.DirCheck(func() error {
		_, err := os.Stat(cfg.Consumer.ConsumeDir)
		return err
	}))
	if err := os.MkdirAll(cfg.Consumer.ScratchDir, 0o755); err != nil {
		slog.Error("failed to create scratch dir", "error", err)
		os.Exit(1)
	}

	// Stage events feed the /api/v1/stages view and, with Kafka, the
	// events topic.
	agg := events.NewAggregator()
	var eventPub events.Publisher
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Events)
		defer p.Close()
		eventPub = p
	}
	collector := events.NewBatchCollector(eventPub, agg, m, 100, 5*time.Second)
	collector.Start(workCtx)

	orch := consumer.New(consumer.Config{
		BranchConcurrency: cfg.Consumer.BranchConcurrency,
		DeleteOriginals:   cfg.Consumer.DeleteOriginals,
		FilenameFormat:    cfg.Storage.FilenameFormat,
		Languages:         cfg.Consumer.Languages,
		Tracing:           tracing.Sampler{Enabled: cfg.Tracing.Enabled, Rate: cfg.Tracing.SampleRate},
	}, consumer.Deps{
		Splitter:   barcode.New(cfg.Barcode, runner, cfg.Consumer.ScratchDir),
		Extractor:  ocr.New(cfg.OCR, runner, cfg.Consumer.ScratchDir),
		Classifier: cls,
		Store:      records,
		Index:      engine,
		Claimer:    claimer,
		Originals:  originals,
		Archive:    archive,
		Metrics:    m,
		Observer:   collector,
	})

	var sinks []queue.Sink
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Outcomes)
		defer p.Close()
		breaker := resilience.NewCircuitBreaker("outcomes", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			Reporter:         m,
		})
		checker.Optional(health.ComponentOutcomes, health.BreakerCheck(breaker))
		sinks = append(sinks, queue.NewKafkaSink(p, breaker))
	}
	pool := queue.New(queue.Config{
		Workers:           cfg.Consumer.Workers,
		QueueSize:         cfg.Consumer.QueueSize,
		MaxAttempts:       cfg.Consumer.MaxAttempts,
		RetryInitialDelay: cfg.Consumer.RetryInitialDelay,
		RetryMaxDelay:     cfg.Consumer.RetryMaxDelay,
		TaskTimeout:       cfg.Consumer.TaskTimeout,
	}, orch, tasks, m, sinks...)
	if _, err := pool.Recover(ctx); err != nil {
		slog.Error("failed to recover unfinished tasks", "error", err)
		os.Exit(1)
	}
	pool.Start(workCtx)

	rpcServer := rpc.NewServer(30 * time.Second)
	queue.RegisterRPC(rpcServer, pool)
	go func() {
		if err := rpcServer.ListenAndServe(fmt.Sprintf(":%d", cfg.Consumer.RPCPort)); err != nil {
			slog.Error("rpc server error", "error", err)
		}
	}()

	if cfg.Kafka.Enabled {
		ingest := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Ingest, queue.HandleIngest(pool),
			kafka.OnlyTypes(kafka.TypeIngestTask),
		)
		defer ingest.Close()
		go runConsumer(ctx, "ingest", ingest)

		// Every consumer process needs every model update, so each one
		// reads the topic in its own group.
		host, _ := os.Hostname()
		models := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ModelUpdates,
			queue.HandleModelUpdate(holder, cfg.Classifier.ModelPath),
			kafka.WithGroupID(fmt.Sprintf("%s-model-%s-%d", cfg.Kafka.ConsumerGroup, host, os.Getpid())),
			kafka.OnlyTypes(kafka.TypeModelUpdate),
		)
		defer models.Close()
		go runConsumer(ctx, "model-updates", models)
	} else if cfg.Classifier.ReloadInterval > 0 {
		go reloadModel(ctx, holder, cfg.Classifier.ModelPath, cfg.Classifier.ReloadInterval)
	}

	if cfg.Consumer.WatchDirectory {
		w := watcher.New(watcher.Config{
			Dir:      cfg.Consumer.ConsumeDir,
			Interval: cfg.Consumer.PollInterval,
		}, ingestion.SubmitFunc(pool.Enqueue))
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("consume watcher stopped", "error", err)
			}
		}()
	}

	h := handler.New(pool, tasks, records, search.New(engine))
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.New(router.Config{
			Token:          cfg.Server.AdminToken,
			CORSOrigins:    cfg.Server.CORSOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		}, h, checker, events.NewHandler(agg).Stats, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.AdminToken == "" {
		slog.Warn("admin token not set, operator API is unauthenticated")
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("consumer service listening", "addr", server.Addr, "rpc_port", cfg.Consumer.RPCPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	rpcServer.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Consumer.TaskTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		slog.Warn("running tasks interrupted, they will be recovered on restart", "error", err)
	}
	stopWork()
	collector.Close()
	if err := engine.Close(); err != nil {
		slog.Error("closing search index", "error", err)
	}
	slog.Info("consumer service stopped")
}

func runConsumer(ctx context.Context, name string, c *kafka.Consumer) {
	slog.Info("kafka consumer started", "stream", name)
	if err := c.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("kafka consumer stopped", "stream", name, "error", err)
	}
}

// reloadModel polls the model artifact when no update topic is available.
func reloadModel(ctx context.Context, holder *classifier.Holder, path string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := holder.ReloadFrom(path); err != nil {
				slog.Debug("model reload skipped", "path", path, "error", err)
			}
		}
	}
}
