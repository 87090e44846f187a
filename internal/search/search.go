// Package search answers operator queries against the archive index:
// boolean query parsing, candidate selection and BM25 ranking.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
)

// Index is the read side of the indexer engine.
type Index interface {
	Postings(term string) index.PostingList
	DocCount() int
	Stats() indexer.Stats
}

type Result struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Hits      []Hit          `json:"hits"`
	TermStats map[string]int `json:"term_stats"`
}

type Service struct {
	index  Index
	group  singleflight.Group
	logger *slog.Logger
}

func New(idx Index) *Service {
	return &Service{
		index:  idx,
		logger: slog.Default().With("component", "search"),
	}
}

func (s *Service) Stats() indexer.Stats { return s.index.Stats() }

// Search runs query and returns at most limit ranked hits. Identical
// queries in flight at the same time share one evaluation.
func (s *Service) Search(ctx context.Context, raw string, limit int) (*Result, error) {
	key := raw + "\x00" + strconv.Itoa(limit)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.execute(Parse(raw), limit), nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("search %q: %w", raw, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (s *Service) execute(q Query, limit int) *Result {
	start := time.Now()
	result := &Result{Query: q.Raw, Hits: []Hit{}, TermStats: make(map[string]int)}
	if len(q.Terms) == 0 {
		return result
	}

	perTerm := make(map[string]index.PostingList, len(q.Terms))
	for _, term := range q.Terms {
		list := s.index.Postings(term)
		result.TermStats[term] = len(list)
		if len(list) > 0 {
			perTerm[term] = list
		}
	}

	var candidates map[string]struct{}
	if q.Mode == MatchAny {
		candidates = union(perTerm)
	} else if len(perTerm) == len(q.Terms) {
		candidates = intersect(perTerm)
	} else {
		candidates = map[string]struct{}{}
	}
	for _, term := range q.Exclude {
		for _, p := range s.index.Postings(term) {
			delete(candidates, p.DocID)
		}
	}

	filtered := make(map[string]index.PostingList, len(perTerm))
	for term, list := range perTerm {
		keep := make(index.PostingList, 0, len(list))
		for _, p := range list {
			if _, ok := candidates[p.DocID]; ok {
				keep = append(keep, p)
			}
		}
		if len(keep) > 0 {
			filtered[term] = keep
		}
	}

	hits := rank(filtered, s.index.DocCount())
	result.TotalHits = len(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	result.Hits = hits
	s.logger.Debug("query executed",
		"query", q.Raw,
		"terms", q.Terms,
		"hits", result.TotalHits,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

func intersect(perTerm map[string]index.PostingList) map[string]struct{} {
	var shortest string
	for term, list := range perTerm {
		if shortest == "" || len(list) < len(perTerm[shortest]) {
			shortest = term
		}
	}
	candidates := make(map[string]struct{})
	for _, p := range perTerm[shortest] {
		candidates[p.DocID] = struct{}{}
	}
	for term, list := range perTerm {
		if term == shortest {
			continue
		}
		present := make(map[string]struct{}, len(list))
		for _, p := range list {
			present[p.DocID] = struct{}{}
		}
		for id := range candidates {
			if _, ok := present[id]; !ok {
				delete(candidates, id)
			}
		}
	}
	return candidates
}

func union(perTerm map[string]index.PostingList) map[string]struct{} {
	out := make(map[string]struct{})
	for _, list := range perTerm {
		for _, p := range list {
			out[p.DocID] = struct{}{}
		}
	}
	return out
}
