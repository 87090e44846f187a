// Package indexer is the archive's full-text search index: an in-memory
// inverted index that is flushed to immutable segments, plus a persisted
// tombstone log so that committed-then-rolled-back documents disappear from
// every segment.
package indexer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/metrics"
)

const tombstoneFile = "tombstones.log"

type Engine struct {
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	readers  []*segment.Reader
	readerMu sync.RWMutex
	flushMu  sync.Mutex

	tombMu     sync.RWMutex
	tombstones map[string]struct{}
	tombLog    *os.File

	cfg     config.IndexConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Stats describes the index for the admin status endpoint.
type Stats struct {
	Segments   int `json:"segments"`
	MemoryDocs int `json:"memory_docs"`
	Tombstones int `json:"tombstones"`
}

func NewEngine(cfg config.IndexConfig, m *metrics.Metrics) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		memIndex:   index.NewMemoryIndex(),
		writer:     segment.NewWriter(cfg.DataDir),
		tombstones: make(map[string]struct{}),
		cfg:        cfg,
		metrics:    m,
		logger:     slog.Default().With("component", "indexer"),
	}
	if err := e.loadTombstones(); err != nil {
		return nil, fmt.Errorf("loading tombstones: %w", err)
	}
	if err := e.loadExistingSegments(); err != nil {
		e.tombLog.Close()
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// Index adds a committed archive record to the index.
func (e *Engine) Index(_ context.Context, rec *document.ArchiveRecord) error {
	return e.IndexDocument(docID(rec.ID), rec.Title, Body(rec))
}

// Remove withdraws a record, used to compensate a commit that did not
// complete.
func (e *Engine) Remove(_ context.Context, id int64) error {
	return e.RemoveDocument(docID(id))
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Body is the searchable text of a record besides its title.
func Body(rec *document.ArchiveRecord) string {
	parts := []string{rec.Text, rec.Correspondent, rec.DocumentType, rec.OriginalFilename}
	parts = append(parts, rec.Tags...)
	return strings.Join(parts, " ")
}

func (e *Engine) IndexDocument(docID string, title string, body string) error {
	if e.isTombstoned(docID) {
		if err := e.appendTombstone('+', docID); err != nil {
			return fmt.Errorf("clearing tombstone for %s: %w", docID, err)
		}
	}
	tokens := e.memIndex.AddDocument(docID, title, body)
	e.logger.Debug("document indexed in memory",
		"doc_id", docID,
		"token_count", tokens,
		"mem_size", e.memIndex.Size(),
	)
	if e.cfg.SegmentMaxSize > 0 && e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// RemoveDocument drops docID from memory and tombstones it for any segment
// that may already hold it.
func (e *Engine) RemoveDocument(docID string) error {
	e.memIndex.RemoveDocument(docID)
	if err := e.appendTombstone('-', docID); err != nil {
		return fmt.Errorf("tombstoning %s: %w", docID, err)
	}
	e.logger.Debug("document removed", "doc_id", docID)
	return nil
}

func (e *Engine) Flush() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	snapshot := e.memIndex.Drain()
	if len(snapshot) == 0 {
		return nil
	}
	segmentName, err := e.writer.Write(snapshot)
	if err != nil {
		e.memIndex.Restore(snapshot)
		e.metrics.IndexFlush("error")
		return fmt.Errorf("writing segment: %w", err)
	}

	segPath := filepath.Join(e.cfg.DataDir, segmentName)
	reader, err := segment.OpenReader(segPath)
	if err != nil {
		e.metrics.IndexFlush("error")
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readerMu.Lock()
	e.readers = append(e.readers, reader)
	active := len(e.readers)
	e.readerMu.Unlock()
	e.metrics.IndexFlush("ok")
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", active,
	)
	return nil
}

// Search returns the live postings for the first term of query.
func (e *Engine) Search(term string) (index.PostingList, error) {
	tokens := tokenizer.Tokenize(term)
	if len(tokens) == 0 {
		return nil, nil
	}
	return e.searchTerm(tokens[0].Term), nil
}

// SearchAll returns the ids of documents containing every term of query,
// in ascending order.
func (e *Engine) SearchAll(query string) []string {
	terms := tokenizer.Terms(query)
	if len(terms) == 0 {
		return nil
	}
	var matched map[string]bool
	for _, term := range terms {
		found := make(map[string]bool)
		for _, p := range e.searchTerm(term) {
			if matched == nil || matched[p.DocID] {
				found[p.DocID] = true
			}
		}
		matched = found
		if len(matched) == 0 {
			return nil
		}
	}
	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Postings returns the live postings of an already normalized term.
func (e *Engine) Postings(term string) index.PostingList {
	return e.searchTerm(term)
}

// DocCount approximates the number of indexed documents. Reindexed and
// tombstoned documents still held by older segments are counted.
func (e *Engine) DocCount() int {
	n := e.memIndex.DocCount()
	e.readerMu.RLock()
	for _, r := range e.readers {
		n += int(r.DocCount())
	}
	e.readerMu.RUnlock()
	e.tombMu.RLock()
	n -= len(e.tombstones)
	e.tombMu.RUnlock()
	if n < 0 {
		return 0
	}
	return n
}

func (e *Engine) searchTerm(normalizedTerm string) index.PostingList {
	allPostings := e.memIndex.Search(normalizedTerm)
	e.readerMu.RLock()
	readers := make([]*segment.Reader, len(e.readers))
	copy(readers, e.readers)
	e.readerMu.RUnlock()

	for _, reader := range readers {
		postings, err := reader.Search(normalizedTerm)
		if err != nil {
			e.logger.Error("segment search failed",
				"segment", reader.Name(),
				"error", err,
			)
			continue
		}
		allPostings = append(allPostings, postings...)
	}

	live := allPostings[:0]
	e.tombMu.RLock()
	for _, p := range allPostings {
		if _, dead := e.tombstones[p.DocID]; !dead {
			live = append(live, p)
		}
	}
	e.tombMu.RUnlock()
	return deduplicatePostings(live)
}

func (e *Engine) Stats() Stats {
	e.readerMu.RLock()
	segments := len(e.readers)
	e.readerMu.RUnlock()
	e.tombMu.RLock()
	tombstones := len(e.tombstones)
	e.tombMu.RUnlock()
	return Stats{Segments: segments, MemoryDocs: e.memIndex.DocCount(), Tombstones: tombstones}
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	if e.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.memIndex.DocCount() > 0 {
					if err := e.Flush(); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.readerMu.Lock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	e.readerMu.Unlock()

	e.tombMu.Lock()
	defer e.tombMu.Unlock()
	if e.tombLog != nil {
		err := e.tombLog.Close()
		e.tombLog = nil
		return err
	}
	return nil
}

func (e *Engine) isTombstoned(docID string) bool {
	e.tombMu.RLock()
	defer e.tombMu.RUnlock()
	_, ok := e.tombstones[docID]
	return ok
}

// appendTombstone records op ('-' remove, '+' revive) durably before
// applying it in memory.
func (e *Engine) appendTombstone(op byte, docID string) error {
	e.tombMu.Lock()
	defer e.tombMu.Unlock()
	if e.tombLog == nil {
		return fmt.Errorf("index is closed")
	}
	if _, err := e.tombLog.WriteString(string(op) + docID + "\n"); err != nil {
		return err
	}
	if err := e.tombLog.Sync(); err != nil {
		return err
	}
	if op == '-' {
		e.tombstones[docID] = struct{}{}
	} else {
		delete(e.tombstones, docID)
	}
	return nil
}

func (e *Engine) loadTombstones() error {
	path := filepath.Join(e.cfg.DataDir, tombstoneFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case '-':
			e.tombstones[line[1:]] = struct{}{}
		case '+':
			delete(e.tombstones, line[1:])
		}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return err
	}
	e.tombLog = f
	return nil
}

func (e *Engine) loadExistingSegments() error {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segment.Extension) {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)

	for _, name := range segFiles {
		path := filepath.Join(e.cfg.DataDir, name)
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers = append(e.readers, reader)
		e.logger.Info("loaded existing segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	e.logger.Info("segment recovery complete",
		"segments_loaded", len(e.readers),
		"tombstones", len(e.tombstones),
	)
	return nil
}

// deduplicatePostings keeps one posting per document. Later segments win,
// since a re-indexed document's newest postings are appended last.
func deduplicatePostings(postings index.PostingList) index.PostingList {
	if len(postings) <= 1 {
		return postings
	}
	seen := make(map[string]int)
	result := make(index.PostingList, 0, len(postings))
	for _, p := range postings {
		if idx, exists := seen[p.DocID]; exists {
			result[idx] = p
		} else {
			seen[p.DocID] = len(result)
			result = append(result, p)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}
