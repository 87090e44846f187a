package search

import (
	"context"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
)

type memIndex struct{ idx *index.MemoryIndex }

func (m memIndex) Postings(term string) index.PostingList { return m.idx.Search(term) }
func (m memIndex) DocCount() int                          { return m.idx.DocCount() }
func (m memIndex) Stats() indexer.Stats                   { return indexer.Stats{MemoryDocs: m.idx.DocCount()} }

func newService() *Service {
	idx := index.NewMemoryIndex()
	idx.AddDocument("1", "Invoice", "acme corp invoice for march, invoice total due")
	idx.AddDocument("2", "Receipt", "acme corp receipt for coffee")
	idx.AddDocument("3", "Letter", "letter from the tax office about the invoice")
	return New(memIndex{idx})
}

func ids(r *Result) []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.DocID
	}
	return out
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		mode    Mode
		terms   int
		exclude int
	}{
		{"", MatchAll, 0, 0},
		{"acme invoice", MatchAll, 2, 0},
		{"acme OR letter", MatchAny, 2, 0},
		{"acme NOT receipt", MatchAll, 1, 1},
		{"the and of", MatchAll, 0, 0},
		{"invoice invoice", MatchAll, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			q := Parse(tt.raw)
			if q.Mode != tt.mode || len(q.Terms) != tt.terms || len(q.Exclude) != tt.exclude {
				t.Errorf("Parse(%q) = %+v", tt.raw, q)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	s := newService()
	ctx := context.Background()
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all terms", "acme invoice", []string{"1"}},
		{"rare terms weigh more", "invoice OR coffee", []string{"2", "1", "3"}},
		{"exclusion", "acme NOT coffee", []string{"1"}},
		{"missing term empties intersection", "acme zebra", []string{}},
		{"stop words only", "the", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Search(ctx, tt.query, 10)
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(res); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Search(%q) = %v, want %v", tt.query, got, tt.want)
			}
			if res.TotalHits != len(tt.want) {
				t.Errorf("TotalHits = %d", res.TotalHits)
			}
		})
	}
}

func TestSearchLimitKeepsTotal(t *testing.T) {
	res, err := newService().Search(context.Background(), "acme OR letter", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 || res.TotalHits != 3 {
		t.Errorf("hits=%d total=%d", len(res.Hits), res.TotalHits)
	}
}
