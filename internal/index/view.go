package index

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// SegmentView is the read interface the query path uses for sealed segments
// and for a committed prefix of the active segment alike. Implementations
// are safe for concurrent use.
type SegmentView interface {
	ID() uint64
	// DocCount is the number of ordinals, live or not.
	DocCount() int
	DocID(ord uint32) uint64
	Ord(docID uint64) (uint32, bool)
	Document(ord uint32) (*Document, error)
	DocLength(ord uint32) int
	Postings(term string) (PostingList, error)
	// TermsWithPrefix lists dictionary terms starting with prefix in sorted
	// order.
	TermsWithPrefix(prefix string) []string
	// Allowed resolves filters to ordinals, nil meaning all.
	Allowed(f Filters) *roaring.Bitmap
}

// Segment pairs a view with its tombstones as of the snapshot. Deleted is
// never mutated after publication.
type Segment struct {
	View    SegmentView
	Deleted *roaring.Bitmap
}

func (s Segment) Live(ord uint32) bool {
	return s.Deleted == nil || !s.Deleted.Contains(ord)
}

func (s Segment) LiveCount() int {
	n := s.View.DocCount()
	if s.Deleted != nil {
		n -= int(s.Deleted.GetCardinality())
	}
	return n
}

// Snapshot is an immutable view of the corpus: sealed segments in creation
// order followed by the committed prefix of the active segment. Holders must
// call Release exactly once; later calls are ignored.
type Snapshot struct {
	Segments    []Segment
	Generation  uint64
	Quarantined []uint64
	TakenAt     time.Time
	LiveDocs    int
	TotalLength int64

	release func()
	once    sync.Once
}

// WithRelease returns a copy of s that runs fn on its first Release.
func (s *Snapshot) WithRelease(fn func()) *Snapshot {
	return &Snapshot{
		Segments:    s.Segments,
		Generation:  s.Generation,
		Quarantined: s.Quarantined,
		TakenAt:     s.TakenAt,
		LiveDocs:    s.LiveDocs,
		TotalLength: s.TotalLength,
		release:     fn,
	}
}

func (s *Snapshot) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Degraded reports whether some segments were excluded as corrupt.
func (s *Snapshot) Degraded() bool {
	return len(s.Quarantined) > 0
}

func (s *Snapshot) AvgDocLength() float64 {
	if s.LiveDocs == 0 {
		return 0
	}
	return float64(s.TotalLength) / float64(s.LiveDocs)
}

// Lookup finds the segment and ordinal holding docID.
func (s *Snapshot) Lookup(docID uint64) (Segment, uint32, bool) {
	for _, seg := range s.Segments {
		if ord, ok := seg.View.Ord(docID); ok {
			return seg, ord, true
		}
	}
	return Segment{}, 0, false
}
