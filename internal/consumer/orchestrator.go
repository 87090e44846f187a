// Package consumer runs the consumption pipeline for one ingest task:
// validate, split, then per part fingerprint, dedup, extract, classify and
// commit. Parts run concurrently and fail independently; the task outcome is
// merged from theirs.
package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/dedup"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/fingerprint"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/pdf"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/tracing"
)

// Stage names used in spans, metrics and events.
const (
	StageValidate = "validate"
	StageSplit    = "split"
	StageDedup    = "dedup"
	StageExtract  = "extract"
	StageClassify = "classify"
	StageCommit   = "commit"
	StageCleanup  = "cleanup"
)

type Config struct {
	BranchConcurrency int
	DeleteOriginals   bool
	FilenameFormat    string
	Languages         []string
	Tracing           tracing.Sampler
}

type Deps struct {
	Splitter   Splitter
	Extractor  Extractor
	Classifier Classifier
	Store      store.Store
	Index      Index
	Claimer    dedup.Claimer
	Originals  storage.Backend
	Archive    storage.Backend
	Metrics    *metrics.Metrics
	Observer   StageObserver
}

type Orchestrator struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.BranchConcurrency <= 0 {
		cfg.BranchConcurrency = 2
	}
	if deps.Claimer == nil {
		deps.Claimer = dedup.NewMemoryClaimer()
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Process runs task to a terminal outcome. It never returns an error: every
// failure is classified into the outcome. The source file is only removed
// when every part succeeded and DeleteOriginals is set.
func (o *Orchestrator) Process(ctx context.Context, task document.IngestTask) document.TaskOutcome {
	ctx = logger.WithTaskID(ctx, task.TaskID)
	ctx, span := tracing.StartSpan(ctx, "consume", task.TaskID)
	span.SetAttr("file", task.OriginalFilename)
	log := logger.FromContext(ctx).With("component", "orchestrator")
	log.Debug("task received", "source", task.SourcePath)

	out := o.process(ctx, task, log)
	out.TaskID = task.TaskID
	if out.FinishedAt.IsZero() {
		out.FinishedAt = time.Now().UTC()
	}
	if out.Status != document.StatusSuccess {
		span.EndErr(out.Err)
	} else {
		span.End()
	}
	o.cfg.Tracing.Finish(span)

	attrs := []any{
		"status", out.Status,
		"reason", out.Reason,
		"documents", len(out.Documents),
		"record_id", out.ArchiveRecordID,
	}
	switch out.Status {
	case document.StatusSuccess:
		log.Info("task finished", attrs...)
	case document.StatusRejected:
		log.Warn("task rejected", append(attrs, "message", out.Message)...)
	default:
		log.Error("task failed", append(attrs, "message", out.Message)...)
	}
	return out
}

func (o *Orchestrator) process(ctx context.Context, task document.IngestTask, log *slog.Logger) document.TaskOutcome {
	var doc document.WorkingDocument
	err := o.stage(ctx, task.TaskID, StageValidate, func(ctx context.Context) error {
		var err error
		doc, err = validate(task)
		return err
	})
	if err != nil {
		return document.NewFailure(task.TaskID, err)
	}

	var (
		parts    []document.WorkingDocument
		asns     []string
		warnings []string
	)
	err = o.stage(ctx, task.TaskID, StageSplit, func(ctx context.Context) error {
		var err error
		parts, asns, err = o.deps.Splitter.Split(ctx, doc)
		return err
	})
	if err != nil {
		if !splitRecoverable(err) {
			return document.NewFailure(task.TaskID, err)
		}
		log.Warn("split failed, processing the document unsplit", "error", err)
		warnings = append(warnings, "split failed, processed unsplit: "+err.Error())
		parts, asns = []document.WorkingDocument{unsplit(doc)}, []string{""}
	}

	sourceHash, err := fingerprint.Compute(doc.Data)
	if err != nil {
		return document.NewFailure(task.TaskID, err)
	}
	// Only a part that is the source byte for byte keeps the source hash. A
	// lone part left after trimming an edge separator is identified by its
	// pages like any other split part.
	whole := len(parts) == 1 && bytes.Equal(parts[0].Data, doc.Data)
	for i := range parts {
		if whole {
			parts[i].ContentHash = sourceHash
		} else {
			parts[i].ContentHash = fingerprint.Part(sourceHash, parts[i].Pages)
		}
	}

	outcomes := make([]document.DocumentOutcome, len(parts))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.BranchConcurrency)
	for i := range parts {
		g.Go(func() error {
			b := branch{
				o:     o,
				task:  task,
				part:  parts[i],
				asn:   asns[i],
				count: len(parts),
			}
			outcomes[i] = b.run(ctx)
			return nil
		})
	}
	g.Wait()

	out := document.Merge(task.TaskID, outcomes)
	out.Warnings = warnings
	if out.Status != document.StatusSuccess {
		out.Err = branchError(outcomes)
	}

	if out.Status == document.StatusSuccess && allSucceeded(outcomes) && o.cfg.DeleteOriginals {
		o.stage(ctx, task.TaskID, StageCleanup, func(context.Context) error {
			if err := os.Remove(task.SourcePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("could not remove consumed source", "path", task.SourcePath, "error", err)
				out.Warnings = append(out.Warnings, "source not removed: "+err.Error())
			}
			return nil
		})
	}
	return out
}

// validate reads the source and checks that it is a supported, non-empty
// document.
func validate(task document.IngestTask) (document.WorkingDocument, error) {
	data, err := os.ReadFile(task.SourcePath)
	if errors.Is(err, fs.ErrNotExist) {
		return document.WorkingDocument{}, apperrors.Reject(apperrors.ReasonUnsupportedType, err, "source file missing")
	}
	if err != nil {
		return document.WorkingDocument{}, apperrors.Fail(apperrors.ReasonStorageFailure, err, "reading source")
	}
	if len(data) == 0 {
		return document.WorkingDocument{}, apperrors.Reject(apperrors.ReasonEmptyDocument, nil, "%s is empty", task.OriginalFilename)
	}
	name := task.OriginalFilename
	if name == "" {
		name = filepath.Base(task.SourcePath)
	}
	mime := document.DetectMime(data, name)
	if !document.Supported(mime) {
		return document.WorkingDocument{}, apperrors.Reject(apperrors.ReasonUnsupportedType, nil, "%s is not a supported document type", name)
	}
	return document.WorkingDocument{Data: data, MimeType: mime}, nil
}

// splitRecoverable reports whether a split failure should fall back to
// processing the whole document. Cancellation, fatal errors and an input
// made only of separators are not recoverable.
func splitRecoverable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperrors.KindOf(err) == apperrors.KindFatal {
		return false
	}
	return apperrors.ReasonOf(err) != apperrors.ReasonEmptyDocument
}

func unsplit(doc document.WorkingDocument) document.WorkingDocument {
	if doc.MimeType == document.MimePDF {
		if n, err := pdf.PageCount(doc.Data); err == nil {
			doc.PageCount = n
			doc.Pages = make([]int, n)
			for i := range doc.Pages {
				doc.Pages[i] = i + 1
			}
		}
	} else {
		doc.PageCount = 1
		doc.Pages = []int{1}
	}
	return doc
}

func allSucceeded(outcomes []document.DocumentOutcome) bool {
	for _, o := range outcomes {
		if o.Status != document.StatusSuccess {
			return false
		}
	}
	return len(outcomes) > 0
}

// branchError rebuilds a classified error for a non-success task from the
// first failed, then first rejected, branch.
func branchError(outcomes []document.DocumentOutcome) error {
	for _, want := range []document.Status{document.StatusFailed, document.StatusRejected} {
		for _, b := range outcomes {
			if b.Status != want {
				continue
			}
			if want == document.StatusFailed {
				return apperrors.Fail(b.Reason, nil, "part %d: %s", b.Index+1, b.Message)
			}
			return apperrors.Reject(b.Reason, nil, "part %d: %s", b.Index+1, b.Message)
		}
	}
	return apperrors.Reject(apperrors.ReasonEmptyDocument, nil, "no documents")
}

// stage runs fn as a named pipeline stage with a child span, a duration
// metric and a stage event.
func (o *Orchestrator) stage(ctx context.Context, taskID, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	span.EndErr(err)
	o.deps.Metrics.ObserveStage(name, d)
	if o.deps.Observer != nil {
		o.deps.Observer.Stage(taskID, name, d, err)
	}
	logger.FromContext(ctx).Debug("stage finished",
		"stage", name,
		"duration_ms", d.Milliseconds(),
		"error", err,
	)
	return err
}

// title derives a record title from the original file name.
func title(task document.IngestTask, index, count int) string {
	if task.Overrides.Title != "" {
		if count > 1 {
			return fmt.Sprintf("%s (%d)", task.Overrides.Title, index+1)
		}
		return task.Overrides.Title
	}
	name := task.OriginalFilename
	if name == "" {
		name = filepath.Base(task.SourcePath)
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if count > 1 {
		return fmt.Sprintf("%s (%d)", base, index+1)
	}
	return base
}
