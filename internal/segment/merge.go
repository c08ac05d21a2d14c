package segment

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
)

// MergeInput is one sealed segment with the tombstones to drop from it.
type MergeInput struct {
	Reader  *Reader
	Deleted *roaring.Bitmap
}

// MergeResult describes a finished merge. Path is empty when every input
// document was tombstoned and no file was written.
type MergeResult struct {
	Path string
	Docs int
	// Dropped lists the DocIDs physically removed.
	Dropped []uint64
}

// Merge writes segment id containing the live documents of inputs in DocID
// order. Posting lists are combined by a k-way merge on the remapped
// ordinals, never re-sorted.
func Merge(ctx context.Context, w *Writer, id uint64, inputs []MergeInput) (*MergeResult, error) {
	b, err := w.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := mergeInto(ctx, b, inputs)
	if err != nil {
		b.Abort()
		return nil, err
	}
	if res.Docs == 0 {
		b.Abort()
		return res, nil
	}
	path, err := b.Finish()
	if err != nil {
		return nil, err
	}
	res.Path = path
	return res, nil
}

func mergeInto(ctx context.Context, b *Builder, inputs []MergeInput) (*MergeResult, error) {
	res := &MergeResult{}
	// remap[i][oldOrd] is the new ordinal, or -1 when dropped.
	remap := make([][]int64, len(inputs))
	docs := make(docHeap, 0, len(inputs))
	for i, in := range inputs {
		remap[i] = make([]int64, in.Reader.DocCount())
		if in.Reader.DocCount() > 0 {
			docs = append(docs, docCursor{input: i, docID: in.Reader.DocID(0)})
		}
	}
	heap.Init(&docs)
	for docs.Len() > 0 {
		c := &docs[0]
		in := inputs[c.input]
		ord := c.ord
		if in.Deleted != nil && in.Deleted.Contains(ord) {
			remap[c.input][ord] = -1
			res.Dropped = append(res.Dropped, c.docID)
		} else {
			doc, err := in.Reader.Document(ord)
			if err != nil {
				return nil, err
			}
			newOrd, err := b.AddDocument(doc)
			if err != nil {
				return nil, err
			}
			remap[c.input][ord] = int64(newOrd)
			res.Docs++
		}
		if c.ord+1 < uint32(in.Reader.DocCount()) {
			c.ord++
			c.docID = in.Reader.DocID(c.ord)
			heap.Fix(&docs, 0)
		} else {
			heap.Pop(&docs)
		}
		if res.Docs%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if res.Docs == 0 {
		return res, nil
	}

	terms := make(termHeap, 0, len(inputs))
	for i, in := range inputs {
		if list := in.Reader.TermList(); len(list) > 0 {
			terms = append(terms, termCursor{input: i, terms: list})
		}
	}
	heap.Init(&terms)
	var lists []mappedList
	for n := 0; terms.Len() > 0; n++ {
		term := terms[0].current()
		lists = lists[:0]
		for terms.Len() > 0 && terms[0].current() == term {
			c := &terms[0]
			pl, err := inputs[c.input].Reader.Postings(term)
			if err != nil {
				return nil, err
			}
			lists = append(lists, mappedList{postings: pl, remap: remap[c.input]})
			c.pos++
			if c.pos == len(c.terms) {
				heap.Pop(&terms)
			} else {
				heap.Fix(&terms, 0)
			}
		}
		if err := b.AddTerm(term, mergePostings(lists)); err != nil {
			return nil, err
		}
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

type mappedList struct {
	postings index.PostingList
	remap    []int64
	pos      int
}

// next advances past dropped postings and reports the head's new ordinal.
func (m *mappedList) next() (int64, bool) {
	for m.pos < len(m.postings) {
		if o := m.remap[m.postings[m.pos].Ord]; o >= 0 {
			return o, true
		}
		m.pos++
	}
	return 0, false
}

// mergePostings combines per-input lists into one list on new ordinals.
// Each input is already in ordinal order and the remap is monotonic, so a
// k-way merge suffices.
func mergePostings(lists []mappedList) index.PostingList {
	total := 0
	for _, l := range lists {
		total += len(l.postings)
	}
	out := make(index.PostingList, 0, total)
	for {
		best := -1
		var bestOrd int64
		for i := range lists {
			if o, ok := lists[i].next(); ok && (best < 0 || o < bestOrd) {
				best, bestOrd = i, o
			}
		}
		if best < 0 {
			return out
		}
		p := lists[best].postings[lists[best].pos]
		out = append(out, index.Posting{Ord: uint32(bestOrd), Frequency: p.Frequency, Positions: p.Positions})
		lists[best].pos++
	}
}

type docCursor struct {
	input int
	ord   uint32
	docID uint64
}

type docHeap []docCursor

func (h docHeap) Len() int           { return len(h) }
func (h docHeap) Less(i, j int) bool { return h[i].docID < h[j].docID }
func (h docHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *docHeap) Push(x any)        { *h = append(*h, x.(docCursor)) }
func (h *docHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type termCursor struct {
	input int
	terms []string
	pos   int
}

func (c termCursor) current() string { return c.terms[c.pos] }

type termHeap []termCursor

func (h termHeap) Len() int { return len(h) }
func (h termHeap) Less(i, j int) bool {
	if h[i].current() != h[j].current() {
		return h[i].current() < h[j].current()
	}
	return h[i].input < h[j].input
}
func (h termHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *termHeap) Push(x any)   { *h = append(*h, x.(termCursor)) }
func (h *termHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// String is used in logs.
func (r *MergeResult) String() string {
	return fmt.Sprintf("%d docs, %d dropped", r.Docs, len(r.Dropped))
}
