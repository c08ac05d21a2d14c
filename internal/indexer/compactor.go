package indexer

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// compactRequest asks the control loop for a round. force merges even when
// the segment count is under the threshold.
type compactRequest struct {
	force bool
	done  chan error
}

// compactJob is a planned merge. It holds a snapshot so its input readers
// stay open while the worker reads them.
type compactJob struct {
	id      uint64
	inputs  []*sealedSegment
	deleted []*roaring.Bitmap
	snap    *index.Snapshot
	started time.Time
}

type compactResult struct {
	job *compactJob
	res *segment.MergeResult
	err error
}

// Compact requests a compaction round and waits for it to be installed.
// With fewer than two sealed segments it still rewrites a lone segment that
// carries tombstones.
func (m *Manager) Compact(ctx context.Context) error {
	return m.requestCompaction(ctx, true)
}

func (m *Manager) requestCompaction(ctx context.Context, force bool) error {
	req := compactRequest{force: force, done: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-m.stop:
		return apperrors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop is the manager side of the compaction protocol: it plans jobs for
// requests, hands them to the worker and installs completed merges. At most
// one job is in flight; requests arriving meanwhile wait for its outcome.
func (m *Manager) loop() {
	defer m.wg.Done()
	var (
		inflight *compactJob
		waiters  []chan error
	)
	for {
		select {
		case <-m.stop:
			for _, w := range waiters {
				w <- apperrors.ErrClosed
			}
			return
		case req := <-m.requests:
			if inflight != nil {
				waiters = append(waiters, req.done)
				continue
			}
			job, err := m.plan(req.force)
			if err != nil || job == nil {
				req.done <- err
				continue
			}
			inflight = job
			waiters = append(waiters, req.done)
			m.jobs <- job
		case r := <-m.results:
			err := m.install(r)
			for _, w := range waiters {
				w <- err
			}
			waiters, inflight = nil, nil
		}
	}
}

// compactor is the background worker. It only reads the job's snapshot and
// writes the new file; the manager installs the result.
func (m *Manager) compactor() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case job := <-m.jobs:
			inputs := make([]segment.MergeInput, len(job.inputs))
			for i, s := range job.inputs {
				inputs[i] = segment.MergeInput{Reader: s.reader, Deleted: job.deleted[i]}
			}
			res, err := segment.Merge(m.ctx, m.compactWriter, job.id, inputs)
			job.snap.Release()
			select {
			case m.results <- compactResult{job: job, res: res, err: err}:
			case <-m.stop:
				if err == nil && res.Path != "" {
					os.Remove(res.Path)
				}
				return
			}
		}
	}
}

// plan picks the contiguous run of sealed segments with the fewest documents
// and reserves an id for the merged file. Quarantined segments split runs so
// merged segments keep manifest order equal to DocID order.
func (m *Manager) plan(force bool) (*compactJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperrors.ErrClosed
	}
	threshold := m.cfg.MaxSegmentsBeforeMerge
	if !force && (threshold <= 0 || len(m.sealed) <= threshold) {
		return nil, nil
	}
	fanIn := max(m.cfg.CompactionFanIn, 2)

	var window []*sealedSegment
	bestDocs := -1
	for _, run := range m.runsLocked() {
		if len(run) == 1 {
			if force && len(m.sealed) == 1 && !run[0].deleted.IsEmpty() && window == nil {
				window = run
			}
			continue
		}
		size := min(fanIn, len(run))
		for i := 0; i+size <= len(run); i++ {
			docs := 0
			for _, s := range run[i : i+size] {
				docs += s.reader.DocCount()
			}
			if bestDocs < 0 || docs < bestDocs {
				window, bestDocs = run[i:i+size], docs
			}
		}
	}
	if len(window) == 0 {
		return nil, nil
	}

	job := &compactJob{
		id:      m.manifest.NextSegmentID,
		inputs:  slices.Clone(window),
		started: time.Now(),
	}
	m.manifest.NextSegmentID++
	for _, s := range window {
		job.deleted = append(job.deleted, s.deleted)
	}
	job.snap = m.snaps.acquire()
	m.compacting = true
	m.logger.Info("compaction planned", "segment_id", job.id, "inputs", segmentIDs(window))
	return job, nil
}

// runsLocked splits the sealed list at quarantined segments.
func (m *Manager) runsLocked() [][]*sealedSegment {
	byID := make(map[uint64]*sealedSegment, len(m.sealed))
	for _, s := range m.sealed {
		byID[s.reader.ID()] = s
	}
	var runs [][]*sealedSegment
	var cur []*sealedSegment
	for _, id := range m.manifest.Sealed {
		s, ok := byID[id]
		if !ok {
			if len(cur) > 0 {
				runs = append(runs, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, s)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// install swaps the merged segment in for its inputs. Tombstones set on the
// inputs after the job was planned are carried over to the new segment.
func (m *Manager) install(r compactResult) error {
	job := r.job
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compacting = false
	elapsed := time.Since(job.started)
	m.metrics.CompactionDuration.Observe(elapsed.Seconds())

	fail := func(err error) error {
		if r.res != nil && r.res.Path != "" {
			os.Remove(r.res.Path)
		}
		m.metrics.Compactions.WithLabelValues("error").Inc()
		m.logger.Error("compaction failed", "segment_id", job.id, "error", err)
		return err
	}
	if r.err != nil {
		return fail(fmt.Errorf("compacting into segment %d: %w", job.id, r.err))
	}
	if m.closed {
		return fail(apperrors.ErrClosed)
	}
	for _, in := range job.inputs {
		if !slices.Contains(m.sealed, in) {
			return fail(fmt.Errorf("compaction input segment %d left the corpus", in.reader.ID()))
		}
	}

	var merged *sealedSegment
	if r.res.Path != "" {
		reader, err := segment.OpenReader(r.res.Path)
		if err != nil {
			return fail(err)
		}
		merged = &sealedSegment{reader: reader, deleted: roaring.New()}
		for i, in := range job.inputs {
			late := roaring.AndNot(in.deleted, job.deleted[i])
			it := late.Iterator()
			for it.HasNext() {
				if ord, ok := reader.Ord(in.reader.DocID(it.Next())); ok {
					merged.deleted.Add(ord)
				}
			}
		}
	}

	inputIDs := segmentIDs(job.inputs)
	next := m.manifest.Clone()
	pos := slices.Index(next.Sealed, inputIDs[0])
	next.Sealed = slices.DeleteFunc(next.Sealed, func(id uint64) bool { return slices.Contains(inputIDs, id) })
	if merged != nil {
		next.Sealed = slices.Insert(next.Sealed, pos, job.id)
	}
	if err := next.Save(m.cfg.DataDir, m.cfg.NoSync); err != nil {
		if merged != nil {
			merged.reader.Close()
		}
		return fail(err)
	}
	m.manifest = next

	first := slices.Index(m.sealed, job.inputs[0])
	m.sealed = slices.DeleteFunc(m.sealed, func(s *sealedSegment) bool { return slices.Contains(job.inputs, s) })
	if merged != nil {
		m.sealed = slices.Insert(m.sealed, first, merged)
	}
	m.recount()
	m.publishLocked()
	for _, in := range job.inputs {
		m.snaps.retire(in.reader, m.generation, true)
	}

	if err := m.store.PurgeTombstones(r.res.Dropped); err != nil {
		// Recovery purges tombstones that match no document.
		m.logger.Warn("purging compacted tombstones", "error", err)
	}
	m.metrics.Compactions.WithLabelValues("ok").Inc()
	docs := 0
	if merged != nil {
		docs = merged.reader.DocCount()
	}
	m.logger.Info("compaction installed",
		"segment_id", job.id,
		"inputs", inputIDs,
		"docs", docs,
		"dropped", len(r.res.Dropped),
		"duration", elapsed,
	)
	return nil
}

func segmentIDs(segs []*sealedSegment) []uint64 {
	ids := make([]uint64, len(segs))
	for i, s := range segs {
		ids[i] = s.reader.ID()
	}
	return ids
}
