package indexer

import (
	"log/slog"
	"os"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/segment"
)

// snapshots publishes immutable corpus views and counts the readers of each
// generation. A segment reader that leaves the corpus at generation G stays
// open until no snapshot older than G is held.
type snapshots struct {
	mu      sync.Mutex
	current *index.Snapshot
	held    map[uint64]int
	retired []retiredReader
	logger  *slog.Logger
}

type retiredReader struct {
	gen    uint64
	reader *segment.Reader
	// remove deletes the file after closing; quarantined segments keep theirs.
	remove bool
}

func newSnapshots(logger *slog.Logger) *snapshots {
	return &snapshots{held: make(map[uint64]int), logger: logger}
}

func (s *snapshots) publish(snap *index.Snapshot) {
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
}

func (s *snapshots) load() *index.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *snapshots) acquire() *index.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.current
	gen := snap.Generation
	s.held[gen]++
	return snap.WithRelease(func() { s.release(gen) })
}

func (s *snapshots) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[gen]--; s.held[gen] <= 0 {
		delete(s.held, gen)
	}
	s.sweepLocked()
}

// retire schedules r to close once every snapshot older than gen is gone.
func (s *snapshots) retire(r *segment.Reader, gen uint64, remove bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = append(s.retired, retiredReader{gen: gen, reader: r, remove: remove})
	s.sweepLocked()
}

func (s *snapshots) sweepLocked() {
	kept := s.retired[:0]
	for _, rr := range s.retired {
		if s.heldBeforeLocked(rr.gen) {
			kept = append(kept, rr)
			continue
		}
		s.closeReader(rr)
	}
	s.retired = kept
}

func (s *snapshots) heldBeforeLocked(gen uint64) bool {
	for g := range s.held {
		if g < gen {
			return true
		}
	}
	return false
}

func (s *snapshots) closeReader(rr retiredReader) {
	if err := rr.reader.Close(); err != nil {
		s.logger.Warn("closing retired segment", "segment_id", rr.reader.ID(), "error", err)
	}
	if rr.remove {
		if err := os.Remove(rr.reader.Path()); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing retired segment file", "path", rr.reader.Path(), "error", err)
		}
	}
}

// closeAll closes every retired reader regardless of holders.
func (s *snapshots) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rr := range s.retired {
		s.closeReader(rr)
	}
	s.retired = nil
}

// pinned reports how many acquired snapshots are outstanding.
func (s *snapshots) pinned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.held {
		n += c
	}
	return n
}
