// Package indexer is the index manager. It owns the segment directory and
// the metastore, serializes every mutation through one writer lock, seals the
// active segment into immutable files, runs compaction on a background
// worker, and publishes immutable snapshots for the query path.
package indexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/dedup"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/metastore"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/metrics"
)

// Options carries the configuration sections the manager reads beside the
// index section.
type Options struct {
	Dedup   config.DedupConfig
	Ingest  config.IngestConfig
	Metrics *metrics.Metrics
}

type sealedSegment struct {
	reader  *segment.Reader
	deleted *roaring.Bitmap
}

type Manager struct {
	cfg       config.IndexConfig
	dedupCfg  dedup.Config
	dedupOn   bool
	ingestCfg config.IngestConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	writer        *segment.Writer
	compactWriter *segment.Writer
	store         *metastore.Store
	snaps         *snapshots

	// mu is the writer lock. Everything below it is guarded by mu.
	mu            sync.Mutex
	manifest      *segment.Manifest
	sealed        []*sealedSegment
	quarantined   map[uint64]string
	active        *index.Active
	activeDeleted *roaring.Bitmap
	// extraPending are pending buckets of earlier active segments replayed
	// into the current one at recovery; they are dropped on the next seal.
	extraPending []uint64
	dups         *dedup.Index
	nextDocID    uint64
	liveDocs     int
	totalLength  int64
	generation   uint64
	compacting   bool
	closed       bool

	requests chan compactRequest
	jobs     chan *compactJob
	results  chan compactResult
	stop     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Open recovers the index in cfg.DataDir and starts the background
// compactor. Recovery trusts only the manifest: unlisted segment files and
// temporary files are removed, listed segments that fail validation are
// quarantined, and documents committed after the last seal are replayed from
// the metastore into a fresh active segment.
func Open(cfg config.IndexConfig, opts Options) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, apperrors.Fault("create index directory", cfg.DataDir, err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	logger := slog.Default().With("component", "indexer")
	m := &Manager{
		cfg:         cfg,
		dedupCfg:    dedup.FromConfig(opts.Dedup),
		dedupOn:     opts.Dedup.Enabled,
		ingestCfg:   opts.Ingest,
		logger:      logger,
		metrics:     opts.Metrics,
		writer:      segment.NewWriter(cfg.DataDir, cfg.NoSync),
		snaps:       newSnapshots(logger),
		quarantined: make(map[uint64]string),
		requests:    make(chan compactRequest),
		jobs:        make(chan *compactJob, 1),
		results:     make(chan compactResult, 1),
		stop:        make(chan struct{}),
	}
	m.compactWriter = m.writer.Throttled(cfg.CompactionBytesPerSec)
	m.dups = dedup.NewIndex(m.dedupCfg)

	store, err := metastore.Open(cfg.DataDir, cfg.NoSync)
	if err != nil {
		return nil, err
	}
	m.store = store
	if err := m.recover(); err != nil {
		m.closeReaders()
		store.Close()
		return nil, fmt.Errorf("recovering index: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(2)
	go m.compactor()
	go m.loop()
	return m, nil
}

func (m *Manager) recover() error {
	start := time.Now()
	manifest, err := segment.LoadManifest(m.cfg.DataDir)
	if err != nil {
		return err
	}
	m.manifest = manifest

	orphans, err := segment.Orphans(m.cfg.DataDir, manifest)
	if err != nil {
		return err
	}
	for _, path := range orphans {
		m.logger.Info("removing unreferenced file", "path", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return apperrors.Fault("remove orphan", path, err)
		}
	}

	var maxDocID uint64
	for _, id := range manifest.Sealed {
		r, err := segment.OpenReader(segment.Path(m.cfg.DataDir, id))
		if err != nil {
			var cse *apperrors.CorruptSegmentError
			if !errors.As(err, &cse) && !errors.Is(err, apperrors.ErrStorageFault) {
				return err
			}
			m.quarantined[id] = err.Error()
			m.logger.Warn("segment quarantined", "segment_id", id, "error", err)
			continue
		}
		m.sealed = append(m.sealed, &sealedSegment{reader: r, deleted: roaring.New()})
		maxDocID = max(maxDocID, r.Header().MaxDocID)
		m.logger.Info("loaded segment",
			"segment_id", id,
			"docs", r.DocCount(),
			"terms", r.Terms(),
		)
	}

	m.active = index.NewActive(manifest.Active)
	m.activeDeleted = roaring.New()
	if err := m.replayPending(&maxDocID); err != nil {
		return err
	}

	next, err := m.store.NextDocID()
	if err != nil {
		return err
	}
	m.nextDocID = max(next, maxDocID+1)
	if m.nextDocID != next {
		if err := m.store.ReserveDocIDs(m.nextDocID); err != nil {
			return err
		}
	}

	if err := m.loadTombstones(); err != nil {
		return err
	}
	if m.dedupOn {
		err := m.store.Fingerprints(func(e dedup.Entry) error {
			if m.residentLocked(e.DocID) {
				m.dups.Add(e)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	m.recount()
	m.publishLocked()
	m.logger.Info("index recovery complete",
		"sealed_segments", len(m.sealed),
		"quarantined", len(m.quarantined),
		"active_docs", m.active.Len(),
		"live_docs", m.liveDocs,
		"next_doc_id", m.nextDocID,
		"duration", time.Since(start),
	)
	return nil
}

func (m *Manager) replayPending(maxDocID *uint64) error {
	segs, err := m.store.PendingSegments()
	if err != nil {
		return err
	}
	var stale []uint64
	var docs []*index.Document
	for _, id := range segs {
		if slices.Contains(m.manifest.Sealed, id) {
			stale = append(stale, id)
			continue
		}
		pending, err := m.store.Pending(id)
		if err != nil {
			return err
		}
		docs = append(docs, pending...)
		if id != m.active.ID() {
			m.extraPending = append(m.extraPending, id)
		}
	}
	if err := m.store.DropPending(stale...); err != nil {
		return err
	}
	slices.SortFunc(docs, func(a, b *index.Document) int {
		return cmp.Compare(a.DocID, b.DocID)
	})
	for _, doc := range docs {
		if doc.DocID <= *maxDocID {
			m.logger.Warn("skipping pending document already sealed", "doc_id", doc.DocID)
			continue
		}
		terms, _ := index.Invert(analysis.Analyze(doc.Text, doc.Language))
		m.active.Add(doc, terms)
		*maxDocID = doc.DocID
	}
	if len(docs) > 0 {
		m.logger.Info("replayed unsealed documents", "count", m.active.Len())
	}
	return nil
}

func (m *Manager) loadTombstones() error {
	ids, err := m.store.Tombstones()
	if err != nil {
		return err
	}
	var gone []uint64
	for _, docID := range ids {
		if !m.markDeleted(docID) {
			gone = append(gone, docID)
		}
	}
	// Tombstones of documents that are nowhere to be found were purged by a
	// compaction that finished before its metastore update. A quarantined
	// segment may still hold them, so keep them in that case.
	if len(gone) > 0 && len(m.quarantined) == 0 {
		if err := m.store.PurgeTombstones(gone); err != nil {
			return err
		}
	}
	return nil
}

// markDeleted sets the tombstone bit for docID without touching counters.
func (m *Manager) markDeleted(docID uint64) bool {
	if ord, ok := m.active.View().Ord(docID); ok {
		m.activeDeleted = withBit(m.activeDeleted, ord)
		return true
	}
	for _, s := range m.sealed {
		if ord, ok := s.reader.Ord(docID); ok {
			s.deleted = withBit(s.deleted, ord)
			return true
		}
	}
	return false
}

// withBit returns a copy of b with ord set. Published bitmaps are never
// mutated.
func withBit(b *roaring.Bitmap, ord uint32) *roaring.Bitmap {
	c := b.Clone()
	c.Add(ord)
	return c
}

func (m *Manager) recount() {
	m.liveDocs, m.totalLength = 0, 0
	count := func(v index.SegmentView, deleted *roaring.Bitmap) {
		for ord := uint32(0); int(ord) < v.DocCount(); ord++ {
			if deleted.Contains(ord) {
				continue
			}
			m.liveDocs++
			m.totalLength += int64(v.DocLength(ord))
		}
	}
	for _, s := range m.sealed {
		count(s.reader, s.deleted)
	}
	count(m.active.View(), m.activeDeleted)
}

// publishLocked installs a new snapshot of the current state.
func (m *Manager) publishLocked() {
	m.generation++
	segs := make([]index.Segment, 0, len(m.sealed)+1)
	for _, s := range m.sealed {
		segs = append(segs, index.Segment{View: s.reader, Deleted: s.deleted})
	}
	segs = append(segs, index.Segment{View: m.active.View(), Deleted: m.activeDeleted})
	quarantined := make([]uint64, 0, len(m.quarantined))
	for id := range m.quarantined {
		quarantined = append(quarantined, id)
	}
	slices.Sort(quarantined)

	m.snaps.publish(&index.Snapshot{
		Segments:    segs,
		Generation:  m.generation,
		Quarantined: quarantined,
		TakenAt:     time.Now(),
		LiveDocs:    m.liveDocs,
		TotalLength: m.totalLength,
	})

	m.metrics.Segments.WithLabelValues("sealed").Set(float64(len(m.sealed)))
	m.metrics.Segments.WithLabelValues("quarantined").Set(float64(len(quarantined)))
	m.metrics.LiveDocuments.Set(float64(m.liveDocs))
	m.metrics.ActiveSegmentDocs.Set(float64(m.active.Len()))
	if len(quarantined) > 0 {
		m.metrics.Degraded.Set(1)
	} else {
		m.metrics.Degraded.Set(0)
	}
}

// Acquire returns the current snapshot. The caller must Release it; segment
// files it references stay open until then.
func (m *Manager) Acquire() *index.Snapshot {
	return m.snaps.acquire()
}

// Generation identifies the current snapshot. It changes on every visible
// mutation, which makes it a cache key component.
func (m *Manager) Generation() uint64 {
	return m.snaps.load().Generation
}

// Flush seals the active segment now. Sealing an empty segment is a no-op.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.ErrClosed
	}
	return m.sealLocked(ctx)
}

func (m *Manager) sealLocked(ctx context.Context) error {
	if m.active.Len() == 0 {
		return nil
	}
	start := time.Now()
	id := m.active.ID()
	path, err := m.writer.WriteActive(ctx, id, m.active.Documents(), m.active.Entries())
	if err != nil {
		m.metrics.SegmentSeals.WithLabelValues("error").Inc()
		return fmt.Errorf("sealing segment %d: %w", id, err)
	}
	reader, err := segment.OpenReader(path)
	if err != nil {
		os.Remove(path)
		m.metrics.SegmentSeals.WithLabelValues("error").Inc()
		return fmt.Errorf("reopening sealed segment %d: %w", id, err)
	}

	next := m.manifest.Clone()
	next.Sealed = append(next.Sealed, id)
	next.Active = next.NextSegmentID
	next.NextSegmentID++
	if err := next.Save(m.cfg.DataDir, m.cfg.NoSync); err != nil {
		reader.Close()
		os.Remove(path)
		m.metrics.SegmentSeals.WithLabelValues("error").Inc()
		return fmt.Errorf("sealing segment %d: %w", id, err)
	}

	m.manifest = next
	m.sealed = append(m.sealed, &sealedSegment{reader: reader, deleted: m.activeDeleted})
	m.active = index.NewActive(next.Active)
	m.activeDeleted = roaring.New()
	if err := m.store.DropPending(append(m.extraPending, id)...); err != nil {
		// Harmless: recovery drops pending buckets of sealed segments.
		m.logger.Warn("dropping sealed pending documents", "segment_id", id, "error", err)
	} else {
		m.extraPending = nil
	}
	m.publishLocked()

	m.metrics.SegmentSeals.WithLabelValues("ok").Inc()
	m.logger.Info("segment sealed",
		"segment_id", id,
		"docs", reader.DocCount(),
		"terms", reader.Terms(),
		"sealed_segments", len(m.sealed),
		"duration", time.Since(start),
	)
	return nil
}

func (m *Manager) shouldSealLocked() bool {
	if m.cfg.SegmentMaxDocs > 0 && m.active.Len() >= m.cfg.SegmentMaxDocs {
		return true
	}
	return m.cfg.SegmentMaxBytes > 0 && m.active.Size() >= m.cfg.SegmentMaxBytes
}

// Run drives periodic sealing and compaction scheduling until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	flush := time.NewTicker(positive(m.cfg.FlushInterval, 30*time.Second))
	merge := time.NewTicker(positive(m.cfg.MergeInterval, time.Minute))
	defer flush.Stop()
	defer merge.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("index maintenance loop stopping")
			return
		case <-flush.C:
			if err := m.Flush(ctx); err != nil && !errors.Is(err, apperrors.ErrClosed) {
				m.logger.Error("periodic seal failed", "error", err)
			}
		case <-merge.C:
			if err := m.requestCompaction(ctx, false); err != nil && !errors.Is(err, apperrors.ErrClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Error("scheduled compaction failed", "error", err)
			}
		}
	}
}

func positive(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Verify re-reads every sealed segment and quarantines the ones that no
// longer pass their checksums.
func (m *Manager) Verify(ctx context.Context) ([]VerifyResult, error) {
	m.mu.Lock()
	segs := slices.Clone(m.sealed)
	m.mu.Unlock()

	results := make([]VerifyResult, 0, len(segs))
	var bad []*sealedSegment
	for _, s := range segs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := VerifyResult{SegmentID: s.reader.ID(), Docs: s.reader.DocCount()}
		if err := s.reader.Verify(); err != nil {
			res.Error = err.Error()
			bad = append(bad, s)
		}
		results = append(results, res)
	}
	if len(bad) == 0 {
		return results, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bad {
		i := slices.Index(m.sealed, b)
		if i < 0 {
			continue
		}
		m.sealed = slices.Delete(m.sealed, i, i+1)
		for ord := range b.reader.DocCount() {
			m.dups.Remove(b.reader.DocID(uint32(ord)))
		}
		m.quarantined[b.reader.ID()] = "failed verification"
		m.logger.Warn("segment quarantined", "segment_id", b.reader.ID())
	}
	m.recount()
	m.publishLocked()
	for _, b := range bad {
		m.snaps.retire(b.reader, m.generation, false)
	}
	return results, nil
}

type VerifyResult struct {
	SegmentID uint64 `json:"segment_id"`
	Docs      int    `json:"docs"`
	Error     string `json:"error,omitempty"`
}

// Close stops background work, seals the active segment and releases every
// file. Snapshots still held become unusable.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sealErr := m.sealLocked(context.Background())
	if sealErr != nil {
		m.logger.Error("final seal failed, documents remain in the metastore", "error", sealErr)
	}
	m.mu.Unlock()

	m.cancel()
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	m.closeReaders()
	m.mu.Unlock()
	m.snaps.closeAll()
	storeErr := m.store.Close()
	m.logger.Info("index closed")
	return errors.Join(sealErr, storeErr)
}

func (m *Manager) closeReaders() {
	for _, s := range m.sealed {
		if err := s.reader.Close(); err != nil {
			m.logger.Warn("closing segment", "segment_id", s.reader.ID(), "error", err)
		}
	}
	m.sealed = nil
}
