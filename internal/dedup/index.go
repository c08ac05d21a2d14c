package dedup

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
	"time"
)

// Entry is the dedup view of one live document.
type Entry struct {
	DocID     uint64    `json:"doc_id"`
	SnippetID string    `json:"snippet_id"`
	Score     float64   `json:"score"`
	FetchedAt time.Time `json:"fetched_at"`
	Sig       Signature `json:"sig"`
}

type bandKey struct {
	band int
	hash uint64
}

// Index buckets live documents by signature bands. It is not safe for
// concurrent use; the index manager mutates it under its writer lock.
type Index struct {
	cfg     Config
	rows    int
	buckets map[bandKey][]uint64
	entries map[uint64]*Entry
}

func NewIndex(cfg Config) *Index {
	rows := 1
	if cfg.Bands > 0 && cfg.NumHashes >= cfg.Bands {
		rows = cfg.NumHashes / cfg.Bands
	}
	return &Index{
		cfg:     cfg,
		rows:    rows,
		buckets: make(map[bandKey][]uint64),
		entries: make(map[uint64]*Entry),
	}
}

func (x *Index) bandKeys(sig Signature) []bandKey {
	if len(sig) == 0 {
		return nil
	}
	keys := make([]bandKey, 0, len(sig)/x.rows)
	var buf [8]byte
	h := fnv.New64a()
	for band := 0; (band+1)*x.rows <= len(sig); band++ {
		h.Reset()
		for _, v := range sig[band*x.rows : (band+1)*x.rows] {
			binary.LittleEndian.PutUint64(buf[:], v)
			h.Write(buf[:])
		}
		keys = append(keys, bandKey{band: band, hash: h.Sum64()})
	}
	return keys
}

// Add registers e, replacing any entry with the same DocID.
func (x *Index) Add(e Entry) {
	if _, ok := x.entries[e.DocID]; ok {
		x.Remove(e.DocID)
	}
	entry := e
	x.entries[e.DocID] = &entry
	for _, k := range x.bandKeys(e.Sig) {
		x.buckets[k] = append(x.buckets[k], e.DocID)
	}
}

func (x *Index) Remove(docID uint64) {
	e, ok := x.entries[docID]
	if !ok {
		return
	}
	delete(x.entries, docID)
	for _, k := range x.bandKeys(e.Sig) {
		ids := x.buckets[k]
		for i, id := range ids {
			if id == docID {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(x.buckets, k)
		} else {
			x.buckets[k] = ids
		}
	}
}

func (x *Index) Get(docID uint64) (Entry, bool) {
	e, ok := x.entries[docID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (x *Index) Len() int {
	return len(x.entries)
}

// Candidates returns the entries sharing at least one band with sig, in
// DocID order.
func (x *Index) Candidates(sig Signature) []Entry {
	seen := make(map[uint64]struct{})
	var out []Entry
	for _, k := range x.bandKeys(sig) {
		for _, id := range x.buckets[k] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, *x.entries[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// Best returns the most similar candidate at or above the threshold. Equal
// similarities resolve to the smaller DocID.
func (x *Index) Best(sig Signature) (Entry, float64, bool) {
	var (
		best    Entry
		bestSim float64
		found   bool
	)
	for _, c := range x.Candidates(sig) {
		sim := Similarity(sig, c.Sig)
		if sim < x.cfg.Threshold {
			continue
		}
		if !found || sim > bestSim {
			best, bestSim, found = c, sim, true
		}
	}
	return best, bestSim, found
}
