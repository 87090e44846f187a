// Package index holds the in-memory inverted index and the posting types
// shared with on-disk segments.
package index

type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}
