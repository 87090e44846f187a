package index

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/tokenizer"
)

// MemoryIndex is the mutable, not yet flushed part of the inverted index.
type MemoryIndex struct {
	mu       sync.RWMutex
	index    map[string]map[string]*Posting
	docTerms map[string][]string
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:    make(map[string]map[string]*Posting),
		docTerms: make(map[string][]string),
	}
}

// AddDocument indexes title and body under docID, replacing any earlier
// version of the same document. It returns the number of tokens indexed.
func (m *MemoryIndex) AddDocument(docID string, title string, body string) int {
	tokens := tokenizer.Tokenize(title + " " + body)

	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     docID,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(docID)

	terms := make([]string, 0, len(termData))
	for term, posting := range termData {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][docID] = posting
		m.size += postingSize(term, posting)
		terms = append(terms, term)
	}
	m.docTerms[docID] = terms
	return len(tokens)
}

// RemoveDocument drops every posting of docID and reports whether the
// document was present.
func (m *MemoryIndex) RemoveDocument(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(docID)
}

func (m *MemoryIndex) removeLocked(docID string) bool {
	terms, ok := m.docTerms[docID]
	if !ok {
		return false
	}
	for _, term := range terms {
		docs := m.index[term]
		if p, ok := docs[docID]; ok {
			m.size -= postingSize(term, p)
			delete(docs, docID)
		}
		if len(docs) == 0 {
			delete(m.index, term)
		}
	}
	delete(m.docTerms, docID)
	return true
}

func postingSize(term string, p *Posting) int64 {
	return int64(len(term) + len(p.DocID) + len(p.Positions)*8 + 64)
}

func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Drain returns the sorted term entries and empties the index in one step,
// so a document added during a flush is never lost.
func (m *MemoryIndex) Drain() []TermEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: postings,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	m.index = make(map[string]map[string]*Posting)
	m.docTerms = make(map[string][]string)
	m.size = 0
	return entries
}

// Restore puts drained entries back, used when a flush fails. Documents
// indexed since the drain take precedence.
func (m *MemoryIndex) Restore(entries []TermEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := make(map[string]bool)
	for _, e := range entries {
		for _, p := range e.Postings {
			if _, newer := m.docTerms[p.DocID]; newer && !restored[p.DocID] {
				continue
			}
			restored[p.DocID] = true
			if _, ok := m.index[e.Term]; !ok {
				m.index[e.Term] = make(map[string]*Posting)
			}
			posting := p
			m.index[e.Term][p.DocID] = &posting
			m.docTerms[p.DocID] = append(m.docTerms[p.DocID], e.Term)
			m.size += postingSize(e.Term, &posting)
		}
	}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docTerms)
}
