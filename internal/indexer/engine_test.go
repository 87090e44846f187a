package indexer

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/document"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
)

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(config.IndexConfig{DataDir: dir}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestIndexSearchAcrossFlush(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	if err := e.IndexDocument("1", "Invoice", "electricity invoice for march"); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.IndexDocument("2", "Receipt", "coffee receipt march"); err != nil {
		t.Fatal(err)
	}

	if got := e.SearchAll("march"); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("SearchAll(march) = %v", got)
	}
	if got := e.SearchAll("march invoice"); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("SearchAll(march invoice) = %v", got)
	}
	if got := e.SearchAll("nothing"); got != nil {
		t.Errorf("SearchAll(nothing) = %v", got)
	}
	stats := e.Stats()
	if stats.Segments != 1 || stats.MemoryDocs != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRemoveHidesFlushedDocument(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)

	rec := &document.ArchiveRecord{ID: 42, Title: "Contract", Text: "tenancy agreement", Tags: []string{"home"}}
	if err := e.Index(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := e.Remove(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	if got := e.SearchAll("tenancy"); got != nil {
		t.Fatalf("removed document still searchable: %v", got)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestEngine(t, dir)
	defer reopened.Close()
	if got := reopened.SearchAll("tenancy"); got != nil {
		t.Errorf("tombstone not replayed after reopen: %v", got)
	}
	if reopened.Stats().Tombstones != 1 {
		t.Errorf("Stats = %+v", reopened.Stats())
	}

	if err := reopened.Index(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if got := reopened.SearchAll("tenancy"); !reflect.DeepEqual(got, []string{"42"}) {
		t.Errorf("re-indexed document not found: %v", got)
	}
}

func TestCloseFlushesAndReloads(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	if err := e.IndexDocument("7", "", "quarterly tax statement"); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	segments := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), segment.Extension) {
			segments++
		}
	}
	if segments != 1 {
		t.Fatalf("expected one segment on disk, found %d", segments)
	}

	reopened := newTestEngine(t, dir)
	defer reopened.Close()
	postings, err := reopened.Search("statement")
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 1 || postings[0].DocID != "7" {
		t.Errorf("Search = %+v", postings)
	}
}

func TestSizeThresholdTriggersFlush(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(config.IndexConfig{DataDir: dir, SegmentMaxSize: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.IndexDocument("1", "", "bank statement"); err != nil {
		t.Fatal(err)
	}
	if e.Stats().Segments != 1 {
		t.Errorf("expected an automatic flush, stats = %+v", e.Stats())
	}
	if _, err := os.Stat(filepath.Join(dir, tombstoneFile)); err != nil {
		t.Errorf("tombstone log not created: %v", err)
	}
}

func TestBodyIncludesMetadata(t *testing.T) {
	rec := &document.ArchiveRecord{Text: "body", Correspondent: "ACME", DocumentType: "Invoice", Tags: []string{"paid"}}
	body := Body(rec)
	for _, want := range []string{"body", "ACME", "Invoice", "paid"} {
		if !strings.Contains(body, want) {
			t.Errorf("Body missing %q: %q", want, body)
		}
	}
}
