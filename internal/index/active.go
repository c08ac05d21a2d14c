package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// Active is the mutable in-memory segment. One writer appends documents;
// readers take views of the committed prefix without locking. Posting lists
// and the document slice only grow, and each new slice header is published
// atomically after its elements are written, so a view bounded by a
// committed count never observes a partial document.
type Active struct {
	id        uint64
	terms     sync.Map // term -> *termPostings
	docs      atomic.Pointer[[]*Document]
	committed atomic.Uint32

	// writer-only
	size      int64
	termCount int
}

type termPostings struct {
	list atomic.Pointer[PostingList]
}

func NewActive(id uint64) *Active {
	a := &Active{id: id}
	docs := make([]*Document, 0, 64)
	a.docs.Store(&docs)
	return a
}

func (a *Active) ID() uint64 {
	return a.id
}

// Add appends doc with its inverted tokens and commits it. doc.DocID must
// exceed every DocID already added. Only the writer may call Add.
func (a *Active) Add(doc *Document, terms map[string]*Posting) uint32 {
	ord := a.committed.Load()
	for term, p := range terms {
		posting := Posting{Ord: ord, Frequency: p.Frequency, Positions: p.Positions}
		v, loaded := a.terms.Load(term)
		if !loaded {
			v, loaded = a.terms.LoadOrStore(term, &termPostings{})
			if !loaded {
				a.termCount++
			}
		}
		tp := v.(*termPostings)
		var next PostingList
		if cur := tp.list.Load(); cur != nil {
			next = append(*cur, posting)
		} else {
			next = PostingList{posting}
		}
		tp.list.Store(&next)
		a.size += int64(len(term) + len(p.Positions)*8 + 16)
	}
	docs := append(*a.docs.Load(), doc)
	a.docs.Store(&docs)
	a.size += int64(len(doc.Text) + len(doc.SourceURL) + len(doc.ID) + 128)
	a.committed.Store(ord + 1)
	return ord
}

// Len is the number of committed documents.
func (a *Active) Len() int {
	return int(a.committed.Load())
}

// Size is an estimate of the memory held, used as a seal threshold.
func (a *Active) Size() int64 {
	return a.size
}

func (a *Active) TermCount() int {
	return a.termCount
}

// View captures the currently committed prefix.
func (a *Active) View() SegmentView {
	n := a.committed.Load()
	docs := (*a.docs.Load())[:n]
	return &activeView{seg: a, n: n, docs: docs}
}

// Entries returns every term with its postings sorted by term, for sealing.
func (a *Active) Entries() []TermEntry {
	entries := make([]TermEntry, 0, a.termCount)
	a.terms.Range(func(k, v any) bool {
		if pl := v.(*termPostings).list.Load(); pl != nil && len(*pl) > 0 {
			entries = append(entries, TermEntry{Term: k.(string), Postings: *pl})
		}
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Documents returns the committed documents in ordinal order.
func (a *Active) Documents() []*Document {
	return (*a.docs.Load())[:a.committed.Load()]
}

type activeView struct {
	seg  *Active
	n    uint32
	docs []*Document
}

func (v *activeView) ID() uint64    { return v.seg.id }
func (v *activeView) DocCount() int { return int(v.n) }

func (v *activeView) DocID(ord uint32) uint64 {
	return v.docs[ord].DocID
}

func (v *activeView) Ord(docID uint64) (uint32, bool) {
	i := sort.Search(len(v.docs), func(i int) bool { return v.docs[i].DocID >= docID })
	if i < len(v.docs) && v.docs[i].DocID == docID {
		return uint32(i), true
	}
	return 0, false
}

func (v *activeView) Document(ord uint32) (*Document, error) {
	if ord >= v.n {
		return nil, fmt.Errorf("ordinal %d out of range in active segment %d", ord, v.seg.id)
	}
	return v.docs[ord], nil
}

func (v *activeView) DocLength(ord uint32) int {
	return v.docs[ord].Length
}

func (v *activeView) Postings(term string) (PostingList, error) {
	val, ok := v.seg.terms.Load(term)
	if !ok {
		return nil, nil
	}
	pl := val.(*termPostings).list.Load()
	if pl == nil {
		return nil, nil
	}
	return pl.Before(v.n), nil
}

func (v *activeView) TermsWithPrefix(prefix string) []string {
	var out []string
	v.seg.terms.Range(func(k, val any) bool {
		term := k.(string)
		if !strings.HasPrefix(term, prefix) {
			return true
		}
		if pl := val.(*termPostings).list.Load(); pl != nil && len(*pl) > 0 && (*pl)[0].Ord < v.n {
			out = append(out, term)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func (v *activeView) Allowed(f Filters) *roaring.Bitmap {
	if f.IsEmpty() {
		return nil
	}
	b := roaring.New()
	for ord, d := range v.docs {
		if f.Match(d) {
			b.Add(uint32(ord))
		}
	}
	return b
}
