package consumer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/ocr"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/logger"
)

// branch carries one split part from fingerprint to commit.
type branch struct {
	o     *Orchestrator
	task  document.IngestTask
	part  document.WorkingDocument
	asn   string
	count int
}

func (b *branch) run(ctx context.Context) document.DocumentOutcome {
	out := document.DocumentOutcome{
		Index:       b.part.Index,
		Pages:       b.part.Pages,
		ContentHash: b.part.ContentHash,
	}
	id, err := b.consume(ctx)
	out.Status = document.StatusFor(err)
	out.ArchiveRecordID = id
	if err != nil {
		out.Reason = apperrors.ReasonOf(err)
		out.Message = err.Error()
		if out.Reason == apperrors.ReasonDuplicate {
			b.o.deps.Metrics.Duplicate()
		}
	}
	return out
}

func (b *branch) consume(ctx context.Context) (int64, error) {
	deps := b.o.deps
	hash := b.part.ContentHash

	claimed, err := deps.Claimer.Claim(ctx, hash, b.task.TaskID)
	if err != nil {
		return 0, apperrors.Fail(apperrors.ReasonStorageFailure, err, "claiming content hash")
	}
	if !claimed {
		return 0, apperrors.Reject(apperrors.ReasonDuplicate, nil, "%s is being consumed by another task", short(hash))
	}
	defer func() {
		if err := deps.Claimer.Release(context.WithoutCancel(ctx), hash, b.task.TaskID); err != nil {
			logger.FromContext(ctx).Warn("releasing content claim failed", "hash", hash, "error", err)
		}
	}()

	var existing int64
	err = b.o.stage(ctx, b.task.TaskID, StageDedup, func(ctx context.Context) error {
		rec, err := deps.Store.LookupByHash(ctx, hash)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return apperrors.Fail(apperrors.ReasonStorageFailure, err, "looking up content hash")
		case rec.TaskID == b.task.TaskID:
			existing = rec.ID
			return nil
		default:
			return apperrors.Reject(apperrors.ReasonDuplicate, nil, "%s is already archived as record %d", short(hash), rec.ID)
		}
	})
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		logger.FromContext(ctx).Info("part already committed by an earlier attempt", "record_id", existing)
		return existing, nil
	}

	var ext ocr.Extraction
	err = b.o.stage(ctx, b.task.TaskID, StageExtract, func(ctx context.Context) error {
		var err error
		ext, err = deps.Extractor.Extract(ctx, b.part, b.o.cfg.Languages)
		return err
	})
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(ext.Text) == "" {
		// Archived anyway; only metadata will be searchable.
		logger.FromContext(ctx).Info("no text found in document", "part", b.part.Index)
	}

	var sugg classifier.Suggestions
	b.o.stage(ctx, b.task.TaskID, StageClassify, func(context.Context) error {
		if deps.Classifier != nil {
			sugg = deps.Classifier.Classify(ext.Text, classifier.Features{
				Filename: b.task.OriginalFilename,
				MimeType: b.part.MimeType,
			})
		}
		return nil
	})

	rec := b.record(ext, sugg)
	var id int64
	err = b.o.stage(ctx, b.task.TaskID, StageCommit, func(ctx context.Context) error {
		var err error
		id, err = b.commit(ctx, rec, ext)
		return err
	})
	if err != nil {
		return 0, err
	}
	deps.Metrics.DocumentCommitted()
	return id, nil
}

// record assembles the archive record. Caller overrides win over
// suggestions; override tags are merged with suggested ones.
func (b *branch) record(ext ocr.Extraction, sugg classifier.Suggestions) *document.ArchiveRecord {
	ov := b.task.Overrides
	rec := &document.ArchiveRecord{
		ContentHash:      b.part.ContentHash,
		Text:             ext.Text,
		Title:            title(b.task, b.part.Index, b.count),
		Tags:             classifier.MergeTags(ov.Tags, sugg.Tags),
		Correspondent:    firstNonEmpty(ov.Correspondent, sugg.Correspondent),
		DocumentType:     firstNonEmpty(ov.DocumentType, sugg.DocumentType),
		StoragePath:      firstNonEmpty(ov.StoragePath, sugg.StoragePath),
		MimeType:         b.part.MimeType,
		PageCount:        b.part.PageCount,
		ASN:              b.asn,
		TaskID:           b.task.TaskID,
		OriginalFilename: b.task.OriginalFilename,
	}
	if ov.ASN != "" && b.count == 1 {
		rec.ASN = ov.ASN
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec
}

// commit stores the files, then inserts the record with the index update as
// the commit hook. Whatever was written is undone when the commit fails.
func (b *branch) commit(ctx context.Context, rec *document.ArchiveRecord, ext ocr.Extraction) (int64, error) {
	deps := b.o.deps
	format := b.o.cfg.FilenameFormat
	if rec.StoragePath != "" {
		format = rec.StoragePath
	}
	name := storage.Filename(format, storage.Fields{
		Title:            rec.Title,
		Correspondent:    rec.Correspondent,
		DocumentType:     rec.DocumentType,
		ASN:              rec.ASN,
		OriginalFilename: rec.OriginalFilename,
		Tags:             rec.Tags,
	})

	comp := &compensation{ctx: context.WithoutCancel(ctx), deps: deps}
	var err error
	rec.OriginalRef, err = deps.Originals.Allocate(ctx, name, document.Extension(rec.MimeType))
	if err != nil {
		return 0, apperrors.Fail(apperrors.ReasonStorageFailure, err, "allocating original path")
	}
	comp.original = rec.OriginalRef
	if err := deps.Originals.Put(ctx, rec.OriginalRef, b.part.Data); err != nil {
		comp.run(0)
		return 0, apperrors.Fail(apperrors.ReasonStorageFailure, err, "writing original")
	}
	if ext.Archive != nil {
		rec.ArchiveRef, err = deps.Archive.Allocate(ctx, name, ".pdf")
		if err != nil {
			comp.run(0)
			return 0, apperrors.Fail(apperrors.ReasonStorageFailure, err, "allocating archive path")
		}
		comp.archive = rec.ArchiveRef
		if err := deps.Archive.Put(ctx, rec.ArchiveRef, ext.Archive); err != nil {
			comp.run(0)
			return 0, apperrors.Fail(apperrors.ReasonStorageFailure, err, "writing archive")
		}
		sum := sha256.Sum256(ext.Archive)
		rec.ArchiveHash = hex.EncodeToString(sum[:])
	}

	var indexedID int64
	id, err := deps.Store.Commit(ctx, rec, func(ctx context.Context, rec *document.ArchiveRecord) error {
		if deps.Index == nil {
			return nil
		}
		indexedID = rec.ID
		if err := deps.Index.Index(ctx, rec); err != nil {
			return apperrors.Fail(apperrors.ReasonIndexCommitFailure, err, "indexing record %d", rec.ID)
		}
		return nil
	})
	if err != nil {
		comp.run(indexedID)
		switch {
		case errors.Is(err, store.ErrConflict):
			return 0, apperrors.Reject(apperrors.ReasonDuplicate, err, "%s committed concurrently", short(rec.ContentHash))
		case errors.Is(err, store.ErrASNConflict):
			return 0, apperrors.Reject(apperrors.ReasonDuplicate, err, "archive serial number %s", rec.ASN)
		case apperrors.ReasonOf(err) == apperrors.ReasonIndexCommitFailure:
			return 0, err
		default:
			return 0, apperrors.Fail(apperrors.ReasonStorageFailure, err, "committing record")
		}
	}
	return id, nil
}

// compensation undoes the side effects of a failed commit.
type compensation struct {
	ctx      context.Context
	deps     Deps
	original string
	archive  string
}

func (c *compensation) run(indexedID int64) {
	log := logger.FromContext(c.ctx)
	if indexedID != 0 && c.deps.Index != nil {
		if err := c.deps.Index.Remove(c.ctx, indexedID); err != nil {
			log.Error("removing index entry of rolled back record", "record_id", indexedID, "error", err)
		}
	}
	if c.archive != "" {
		if err := c.deps.Archive.Delete(c.ctx, c.archive); err != nil {
			log.Error("removing archive file of rolled back record", "ref", c.archive, "error", err)
		}
	}
	if c.original != "" {
		if err := c.deps.Originals.Delete(c.ctx, c.original); err != nil {
			log.Error("removing stored original of rolled back record", "ref", c.original, "error", err)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
