// Package ocr turns a working document into a searchable PDF/A archive
// version and its plain text. ocrmypdf and pdftotext run as subprocesses;
// images are converted to PDF in-process first.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/pdf"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/tools"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

const (
	toolOCRMyPDF  = "ocrmypdf"
	toolPDFToText = "pdftotext"

	// ocrmypdf exit status for encrypted input.
	exitEncryptedPDF = 8
)

// Extraction is the extractor's result. Archive is nil when no archive
// version was produced (skip_noarchive on a document that already has text).
type Extraction struct {
	Archive     []byte
	ArchiveMime string
	Text        string
	OCRSkipped  bool
}

type Extractor struct {
	cfg        config.OCRConfig
	runner     tools.Runner
	scratchDir string
	sem        *semaphore.Weighted
	logger     *slog.Logger
}

func New(cfg config.OCRConfig, runner tools.Runner, scratchDir string) *Extractor {
	limit := int64(cfg.MaxConcurrent)
	if limit <= 0 {
		limit = 1
	}
	return &Extractor{
		cfg:        cfg,
		runner:     runner,
		scratchDir: scratchDir,
		sem:        semaphore.NewWeighted(limit),
		logger:     slog.Default().With("component", "ocr"),
	}
}

// Extract never modifies doc. A tool failure is retried once in degraded
// mode; a second failure is Failed(OcrFailure). An empty text result is a
// success.
func (e *Extractor) Extract(ctx context.Context, doc document.WorkingDocument, langs []string) (Extraction, error) {
	input := doc.Data
	fromImage := document.IsImage(doc.MimeType)
	if fromImage {
		converted, err := pdf.FromImage(doc.Data, doc.MimeType, e.cfg.MaxImagePixels)
		if err != nil {
			return Extraction{}, apperrors.Reject(apperrors.ReasonUnsupportedType, err, "converting %s to pdf", doc.MimeType)
		}
		input = converted
	} else if doc.MimeType != document.MimePDF {
		return Extraction{}, apperrors.Reject(apperrors.ReasonUnsupportedType, nil, "cannot extract %q", doc.MimeType)
	}

	if err := os.MkdirAll(e.scratchDir, 0o755); err != nil {
		return Extraction{}, apperrors.Fatal(err, "creating scratch dir")
	}
	dir, err := os.MkdirTemp(e.scratchDir, "ocr-*")
	if err != nil {
		return Extraction{}, apperrors.Fatal(err, "creating scratch dir")
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(inputPath, input, 0o600); err != nil {
		return Extraction{}, apperrors.Fatal(err, "writing scratch copy")
	}

	var embedded string
	if !fromImage {
		embedded = e.pdfText(ctx, inputPath)
	}
	hasText := letters(embedded) >= e.cfg.MinTextChars && embedded != ""
	if e.cfg.Mode == ModeSkipNoArchive && hasText {
		e.logger.Debug("embedded text is adequate, no archive version", "chars", len(embedded))
		return Extraction{Text: embedded, OCRSkipped: true}, nil
	}

	inv := invocation{
		input:     inputPath,
		output:    filepath.Join(dir, "archive.pdf"),
		sidecar:   filepath.Join(dir, "sidecar.txt"),
		langs:     languages(langs, e.cfg.Language),
		fromImage: fromImage,
	}
	if err := e.ocr(ctx, inv); err != nil {
		return Extraction{}, err
	}

	archive, err := os.ReadFile(inv.output)
	if err != nil {
		return Extraction{}, apperrors.Fail(apperrors.ReasonOcrFailure, err, "reading ocrmypdf output")
	}

	skipped := hasText && (e.cfg.Mode == ModeSkip || e.cfg.Mode == "")
	text := embedded
	if !skipped {
		text = e.sidecarText(ctx, inv)
	}
	return Extraction{
		Archive:     archive,
		ArchiveMime: document.MimePDF,
		Text:        text,
		OCRSkipped:  skipped,
	}, nil
}

// ocr runs ocrmypdf, then once more in degraded mode if that failed.
func (e *Extractor) ocr(ctx context.Context, inv invocation) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return apperrors.Fail(apperrors.ReasonOcrFailure, err, "waiting for an ocr slot")
	}
	defer e.sem.Release(1)

	firstErr := e.run(ctx, inv)
	if firstErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return apperrors.Fail(apperrors.ReasonOcrFailure, ctx.Err(), "ocr interrupted")
	}
	if tools.ExitCode(firstErr) == exitEncryptedPDF {
		return apperrors.Reject(apperrors.ReasonUnsupportedType, firstErr, "document is encrypted")
	}
	e.logger.Warn("ocr failed, retrying in degraded mode", "error", firstErr)

	os.Remove(inv.output)
	os.Remove(inv.sidecar)
	inv.degraded = true
	if err := e.run(ctx, inv); err != nil {
		return apperrors.Fail(apperrors.ReasonOcrFailure, errors.Join(firstErr, err), "ocrmypdf failed twice")
	}
	return nil
}

func (e *Extractor) run(ctx context.Context, inv invocation) error {
	_, err := e.runner.Run(ctx, tools.Invocation{
		Name:    toolOCRMyPDF,
		Args:    buildArgs(e.cfg, inv),
		Timeout: e.cfg.Timeout,
	})
	if err != nil {
		return err
	}
	if _, err := os.Stat(inv.output); err != nil {
		return fmt.Errorf("ocrmypdf produced no output: %w", err)
	}
	return nil
}

// sidecarText prefers ocrmypdf's sidecar and falls back to pdftotext on the
// archive when the sidecar is missing or empty.
func (e *Extractor) sidecarText(ctx context.Context, inv invocation) string {
	if b, err := os.ReadFile(inv.sidecar); err == nil && strings.TrimSpace(string(b)) != "" {
		return normalise(string(b))
	}
	return e.pdfText(ctx, inv.output)
}

// pdfText returns the text layer of the PDF at path, or "" if pdftotext
// fails. A missing text layer is not an error.
func (e *Extractor) pdfText(ctx context.Context, path string) string {
	res, err := e.runner.Run(ctx, tools.Invocation{
		Name:    toolPDFToText,
		Args:    []string{"-q", "-layout", "-enc", "UTF-8", path, "-"},
		Timeout: e.cfg.Timeout,
	})
	if err != nil {
		e.logger.Debug("pdftotext failed", "error", err)
		return ""
	}
	return normalise(string(res.Stdout))
}

// normalise collapses runs of blank space and strips the form feeds
// ocrmypdf and pdftotext put between pages.
func normalise(s string) string {
	s = strings.ReplaceAll(s, "\f", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func letters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
