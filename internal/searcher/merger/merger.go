// Package merger keeps the best K hits of a query in ranking order,
// optionally only those ranked after a cursor position.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/ranker"
)

// TopK is a bounded min-heap over ranker.Before. The zero value is not
// usable; call New.
type TopK struct {
	limit int
	after *ranker.ScoredDoc
	h     scoredDocHeap
	// eligible counts every offered hit past the cursor, kept or not.
	eligible int
	// drained counts hits already handed out by Results.
	drained int
}

// New keeps up to limit hits. When after is non-nil only hits that rank
// strictly after it are kept.
func New(limit int, after *ranker.ScoredDoc) *TopK {
	if limit <= 0 {
		limit = 10
	}
	return &TopK{limit: limit, after: after, h: make(scoredDocHeap, 0, limit+1)}
}

// Offer considers doc for the result set.
func (t *TopK) Offer(doc ranker.ScoredDoc) {
	if t.after != nil && !ranker.Before(*t.after, doc) {
		return
	}
	t.eligible++
	if t.h.Len() < t.limit {
		heap.Push(&t.h, doc)
		return
	}
	if ranker.Before(doc, t.h[0]) {
		t.h[0] = doc
		heap.Fix(&t.h, 0)
	}
}

// Eligible is the number of hits offered past the cursor.
func (t *TopK) Eligible() int {
	return t.eligible
}

// More reports whether eligible hits were left out of Results. It holds
// before and after Results.
func (t *TopK) More() bool {
	return t.eligible > t.h.Len()+t.drained
}

// Results drains the heap in ranking order.
func (t *TopK) Results() []ranker.ScoredDoc {
	result := make([]ranker.ScoredDoc, t.h.Len())
	t.drained += len(result)
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&t.h).(ranker.ScoredDoc)
	}
	return result
}

// Merge combines already ranked result lists into the top limit.
func Merge(lists [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	top := New(limit, nil)
	for _, results := range lists {
		for _, doc := range results {
			top.Offer(doc)
		}
	}
	return top.Results()
}

// scoredDocHeap has the worst-ranked hit at the root.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return ranker.Before(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
