// Package index holds the in-memory model shared by the writer and the query
// path: documents, postings, filters, the mutable active segment and the
// immutable snapshot handed to queries.
package index

import (
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
)

// Posting is one document's occurrences of a term inside a segment. Ord is
// the segment-local ordinal; ordinals follow DocID order.
type Posting struct {
	Ord       uint32 `json:"o"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p"`
}

// PostingList is sorted by Ord ascending.
type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// Invert groups analyzed tokens by term. length counts the primary
// indexable tokens and serves as the BM25 document length.
func Invert(tokens []analysis.Token) (terms map[string]*Posting, length int) {
	terms = make(map[string]*Posting)
	for _, tok := range tokens {
		if !tok.Indexable() {
			continue
		}
		if tok.Primary {
			length++
		}
		p, exists := terms[tok.Term]
		if !exists {
			p = &Posting{Positions: make([]int, 0, 2)}
			terms[tok.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, tok.Position)
	}
	return terms, length
}

// Ords extracts the ordinals of a posting list.
func Ords(pl PostingList) []uint32 {
	out := make([]uint32, len(pl))
	for i, p := range pl {
		out[i] = p.Ord
	}
	return out
}

// Find returns the posting for ord using binary search.
func (pl PostingList) Find(ord uint32) (Posting, bool) {
	lo, hi := 0, len(pl)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if pl[mid].Ord < ord {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(pl) && pl[lo].Ord == ord {
		return pl[lo], true
	}
	return Posting{}, false
}

// Before returns the prefix of pl with Ord < n.
func (pl PostingList) Before(n uint32) PostingList {
	lo, hi := 0, len(pl)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if pl[mid].Ord < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return pl[:lo]
}
