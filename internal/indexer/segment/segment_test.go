package segment

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	entries := []index.TermEntry{
		{Term: "bill", Postings: index.PostingList{{DocID: "1", Frequency: 2, Positions: []int{0, 5}}, {DocID: "2", Frequency: 1, Positions: []int{3}}}},
		{Term: "lease", Postings: index.PostingList{{DocID: "3", Frequency: 1, Positions: []int{1}}}},
	}
	name, err := NewWriter(dir).Write(entries)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasSuffix(name, Extension) {
		t.Errorf("segment name %q lacks extension", name)
	}

	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if r.Terms() != 2 || r.DocCount() != 3 || r.Name() != name {
		t.Errorf("terms=%d docs=%d name=%s", r.Terms(), r.DocCount(), r.Name())
	}
	if age := time.Since(r.CreatedAt()); age < 0 || age > time.Minute {
		t.Errorf("created at %v", r.CreatedAt())
	}
	got, err := r.Search("bill")
	if err != nil || len(got) != 2 || got[0].Frequency != 2 {
		t.Fatalf("Search(bill) = %+v, %v", got, err)
	}
	if got, _ := r.Search("missing"); got != nil {
		t.Errorf("Search(missing) = %+v", got)
	}

	tmp, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(tmp) != 0 {
		t.Errorf("temp files left: %v", tmp)
	}
}

func TestOpenReaderRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk"+Extension)
	if err := os.WriteFile(path, make([]byte, HeaderSize), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestOpenReaderDetectsDamage(t *testing.T) {
	entries := []index.TermEntry{
		{Term: "invoice", Postings: index.PostingList{{DocID: "7", Frequency: 1, Positions: []int{0}}}},
	}
	tests := []struct {
		name   string
		damage func(data []byte) []byte
	}{
		{"truncated flush", func(data []byte) []byte { return data[:len(data)-FooterSize/2] }},
		{"flipped dictionary byte", func(data []byte) []byte {
			footer := len(data) - FooterSize
			data[footer-2] ^= 0xff
			return data
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			name, err := NewWriter(dir).Write(entries)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, tt.damage(data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := OpenReader(path); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestWriteSortsDictionary(t *testing.T) {
	dir := t.TempDir()
	flushed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	w := NewWriter(dir)
	w.now = func() time.Time { return flushed }
	entries := []index.TermEntry{
		{Term: "warranty", Postings: index.PostingList{{DocID: "7", Frequency: 1, Positions: []int{4}}}},
		{Term: "invoice", Postings: index.PostingList{{DocID: "7", Frequency: 3, Positions: []int{0, 2, 9}}}},
		{Term: "acme", Postings: index.PostingList{{DocID: "8", Frequency: 1, Positions: []int{0}}}},
	}
	name, err := w.Write(entries)
	if err != nil {
		t.Fatal(err)
	}
	r, err := OpenReader(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for _, e := range entries {
		got, err := r.Search(e.Term)
		if err != nil || len(got) != 1 || got[0].Frequency != e.Postings[0].Frequency {
			t.Errorf("Search(%s) = %+v, %v", e.Term, got, err)
		}
	}
	if !r.CreatedAt().Equal(flushed) || r.DocCount() != 2 {
		t.Errorf("created %v docs %d", r.CreatedAt(), r.DocCount())
	}
	if entries[0].Term != "warranty" {
		t.Error("caller's entries reordered")
	}
}

func TestWriteRejectsEmpty(t *testing.T) {
	if _, err := NewWriter(t.TempDir()).Write(nil); err == nil {
		t.Fatal("expected error for empty segment")
	}
}
