package search

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docarchive/internal/indexer/tokenizer"
)

type Mode int

const (
	MatchAll Mode = iota
	MatchAny
)

// Query is a parsed search string. Terms are normalized the same way the
// indexer normalizes document text.
type Query struct {
	Raw     string
	Terms   []string
	Exclude []string
	Mode    Mode
}

// Parse reads a query of the form "a b OR c NOT d". AND and OR switch the
// combination mode for the whole query; NOT excludes the following word.
// Stop-words disappear.
func Parse(raw string) Query {
	q := Query{Raw: raw, Mode: MatchAll}
	excludeNext := false
	for _, word := range strings.Fields(raw) {
		switch strings.ToUpper(word) {
		case "AND":
			q.Mode = MatchAll
			continue
		case "OR":
			q.Mode = MatchAny
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		tokens := tokenizer.Tokenize(word)
		if len(tokens) == 0 {
			excludeNext = false
			continue
		}
		for _, tok := range tokens {
			if excludeNext {
				q.Exclude = appendUnique(q.Exclude, tok.Term)
			} else {
				q.Terms = appendUnique(q.Terms, tok.Term)
			}
		}
		excludeNext = false
	}
	return q
}

func appendUnique(list []string, term string) []string {
	for _, t := range list {
		if t == term {
			return list
		}
	}
	return append(list, term)
}
