package search

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/index"
)

// k1 is the BM25 term-frequency saturation. Segments do not keep document
// lengths, so scores are not length normalized (b = 0).
const k1 = 1.2

type Hit struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

func rank(postings map[string]index.PostingList, totalDocs int) []Hit {
	scores := make(map[string]float64)
	for _, list := range postings {
		weight := idf(totalDocs, len(list))
		for _, posting := range list {
			tf := float64(posting.Frequency)
			scores[posting.DocID] += weight * tf * (k1 + 1) / (tf + k1)
		}
	}
	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{DocID: id, Score: math.Round(score*10000) / 10000})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	return hits
}

func idf(total, docFreq int) float64 {
	if total < docFreq {
		total = docFreq
	}
	return math.Log((float64(total)-float64(docFreq))/(float64(docFreq)+0.5) + 1)
}
