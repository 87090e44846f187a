// Package barcode splits scanned batches into separate documents at pages
// that carry a separator barcode, and reads archive serial numbers off the
// pages it scans.
package barcode

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/pdf"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/tools"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

const (
	toolPDFToPPM = "pdftoppm"
	toolZBarImg  = "zbarimg"

	// zbarimg exits with 4 when it decoded no symbol at all.
	zbarNoSymbol = 4

	renderConcurrency = 4
)

// Splitter detects separator pages. It never runs OCR.
type Splitter struct {
	cfg        config.BarcodeConfig
	runner     tools.Runner
	scratchDir string
	logger     *slog.Logger
}

func New(cfg config.BarcodeConfig, runner tools.Runner, scratchDir string) *Splitter {
	return &Splitter{
		cfg:        cfg,
		runner:     runner,
		scratchDir: scratchDir,
		logger:     slog.Default().With("component", "barcode-splitter"),
	}
}

// pageScan is what the detector found on one page.
type pageScan struct {
	separator bool
	asn       string
}

// Split returns the documents contained in doc, in page order, together with
// the archive serial number found in each part ("" where none). Without
// separators the result is doc itself. A page that cannot be rendered or
// scanned fails the whole split with PageRenderFailure; a partial result is
// never returned.
func (s *Splitter) Split(ctx context.Context, doc document.WorkingDocument) ([]document.WorkingDocument, []string, error) {
	if doc.MimeType != document.MimePDF {
		doc.PageCount = 1
		doc.Pages = []int{1}
		return []document.WorkingDocument{doc}, []string{""}, nil
	}
	pageCount, err := pdf.PageCount(doc.Data)
	if err != nil {
		return nil, nil, apperrors.Reject(apperrors.ReasonPageRenderFailure, err, "reading page tree")
	}
	doc.PageCount = pageCount
	doc.Pages = pageRange(pageCount)
	if !s.cfg.Enabled || (s.cfg.MaxPages > 0 && pageCount > s.cfg.MaxPages) {
		return []document.WorkingDocument{doc}, []string{""}, nil
	}

	scans, err := s.scan(ctx, doc.Data, pageCount)
	if err != nil {
		return nil, nil, err
	}

	separators := make(map[int]bool)
	for i, sc := range scans {
		if sc.separator {
			separators[i+1] = true
		}
	}
	groups := Group(pageCount, separators)
	if len(groups) == 0 {
		return nil, nil, apperrors.Reject(apperrors.ReasonEmptyDocument, nil, "every page is a separator")
	}

	asns := make([]string, len(groups))
	for gi, g := range groups {
		for _, p := range g {
			if a := scans[p-1].asn; a != "" && asns[gi] == "" {
				asns[gi] = a
			}
		}
	}

	if len(separators) == 0 {
		s.logger.Debug("no separator pages", "pages", pageCount)
		return []document.WorkingDocument{doc}, asns, nil
	}

	parts := make([]document.WorkingDocument, len(groups))
	for gi, g := range groups {
		data, err := pdf.Extract(doc.Data, g)
		if err != nil {
			return nil, nil, apperrors.Reject(apperrors.ReasonPageRenderFailure, err, "writing part %d", gi+1)
		}
		parts[gi] = document.WorkingDocument{
			Data:      data,
			MimeType:  document.MimePDF,
			PageCount: len(g),
			Pages:     g,
			Index:     gi,
		}
	}
	s.logger.Info("split document",
		"pages", pageCount,
		"separators", len(separators),
		"parts", len(parts),
	)
	return parts, asns, nil
}

func (s *Splitter) scan(ctx context.Context, data []byte, pageCount int) ([]pageScan, error) {
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return nil, apperrors.Fatal(err, "creating scratch dir")
	}
	dir, err := os.MkdirTemp(s.scratchDir, "split-*")
	if err != nil {
		return nil, apperrors.Fatal(err, "creating scratch dir")
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(source, data, 0o600); err != nil {
		return nil, apperrors.Fatal(err, "writing scratch copy")
	}

	scans := make([]pageScan, pageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderConcurrency)
	for p := 1; p <= pageCount; p++ {
		g.Go(func() error {
			sc, err := s.scanPage(gctx, dir, source, p)
			if err != nil {
				return err
			}
			scans[p-1] = sc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scans, nil
}

func (s *Splitter) scanPage(ctx context.Context, dir, source string, page int) (pageScan, error) {
	n := strconv.Itoa(page)
	prefix := filepath.Join(dir, "page-"+n)
	_, err := s.runner.Run(ctx, tools.Invocation{
		Name:    toolPDFToPPM,
		Args:    []string{"-r", strconv.Itoa(s.cfg.DPI), "-png", "-f", n, "-l", n, "-singlefile", source, prefix},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		return pageScan{}, apperrors.Reject(apperrors.ReasonPageRenderFailure, err, "rendering page %d", page)
	}

	res, err := s.runner.Run(ctx, tools.Invocation{
		Name:    toolZBarImg,
		Args:    []string{"--raw", "-q", prefix + ".png"},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		if tools.ExitCode(err) == zbarNoSymbol {
			return pageScan{}, nil
		}
		return pageScan{}, apperrors.Reject(apperrors.ReasonPageRenderFailure, err, "scanning page %d", page)
	}
	return s.classify(res.Stdout), nil
}

// classify decides whether a page is a separator: it must carry at least one
// symbol and every symbol must equal the separator string. ASN symbols do not
// make a page a separator.
func (s *Splitter) classify(stdout []byte) pageScan {
	var sc pageScan
	symbols := 0
	matches := 0
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		sym := strings.TrimSpace(string(line))
		if sym == "" {
			continue
		}
		symbols++
		if sym == s.cfg.SeparatorString {
			matches++
			continue
		}
		if s.cfg.ASNPrefix != "" && strings.HasPrefix(sym, s.cfg.ASNPrefix) && sc.asn == "" {
			num := strings.TrimLeft(strings.TrimPrefix(sym, s.cfg.ASNPrefix), " :-")
			if n, err := strconv.ParseUint(num, 10, 32); err == nil {
				sc.asn = strconv.FormatUint(n, 10)
			}
		}
	}
	sc.separator = symbols > 0 && matches == symbols
	return sc
}

func pageRange(n int) []int {
	pages := make([]int, n)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}
