package dedup

import "time"

type Kind int

const (
	Insert Kind = iota
	Supersede
	Ignore
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Supersede:
		return "supersede"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Candidate is the incoming record as seen by Resolve.
type Candidate struct {
	SnippetID string
	Score     float64
	FetchedAt time.Time
}

// Decision is the outcome of Resolve. Old is the bucket representative for
// Supersede and Ignore.
type Decision struct {
	Kind Kind
	Old  *Entry
}

// Resolve decides what happens to c given the bucket's current
// representative. The newcomer wins on higher score, then on newer fetch
// time, then on the lexicographically smaller snippet id.
func Resolve(c Candidate, existing *Entry) Decision {
	if existing == nil {
		return Decision{Kind: Insert}
	}
	if dominates(c, existing) {
		return Decision{Kind: Supersede, Old: existing}
	}
	return Decision{Kind: Ignore, Old: existing}
}

func dominates(c Candidate, e *Entry) bool {
	if c.Score != e.Score {
		return c.Score > e.Score
	}
	if !c.FetchedAt.Equal(e.FetchedAt) {
		return c.FetchedAt.After(e.FetchedAt)
	}
	return c.SnippetID < e.SnippetID
}
