package indexer

import (
	"cmp"
	"slices"
)

type SegmentStats struct {
	ID      uint64 `json:"id"`
	Docs    int    `json:"docs"`
	Deleted int    `json:"deleted"`
	Terms   int    `json:"terms"`
	Path    string `json:"path,omitempty"`
}

type QuarantinedSegment struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

type Stats struct {
	Generation     uint64               `json:"generation"`
	ActiveSegment  uint64               `json:"active_segment"`
	ActiveDocs     int                  `json:"active_docs"`
	ActiveTerms    int                  `json:"active_terms"`
	SealedSegments []SegmentStats       `json:"sealed_segments"`
	Quarantined    []QuarantinedSegment `json:"quarantined,omitempty"`
	LiveDocs       int                  `json:"live_docs"`
	Tombstones     int                  `json:"tombstones"`
	NextDocID      uint64               `json:"next_doc_id"`
	DedupEntries   int                  `json:"dedup_entries"`
	Compacting     bool                 `json:"compacting"`
	PinnedReaders  int                  `json:"pinned_snapshots"`
	Degraded       bool                 `json:"degraded"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Generation:    m.generation,
		ActiveSegment: m.active.ID(),
		ActiveDocs:    m.active.Len(),
		ActiveTerms:   m.active.TermCount(),
		LiveDocs:      m.liveDocs,
		Tombstones:    int(m.activeDeleted.GetCardinality()),
		NextDocID:     m.nextDocID,
		DedupEntries:  m.dups.Len(),
		Compacting:    m.compacting,
		PinnedReaders: m.snaps.pinned(),
		Degraded:      len(m.quarantined) > 0,
	}
	st.SealedSegments = make([]SegmentStats, 0, len(m.sealed))
	for _, s := range m.sealed {
		deleted := int(s.deleted.GetCardinality())
		st.Tombstones += deleted
		st.SealedSegments = append(st.SealedSegments, SegmentStats{
			ID:      s.reader.ID(),
			Docs:    s.reader.DocCount(),
			Deleted: deleted,
			Terms:   s.reader.Terms(),
			Path:    s.reader.Path(),
		})
	}
	for id, reason := range m.quarantined {
		st.Quarantined = append(st.Quarantined, QuarantinedSegment{ID: id, Reason: reason})
	}
	slices.SortFunc(st.Quarantined, func(a, b QuarantinedSegment) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return st
}
