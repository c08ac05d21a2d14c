package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/dedup"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/metastore"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// Decision is what ingestion did with one record.
type Decision string

const (
	Inserted   Decision = "inserted"
	Superseded Decision = "superseded"
	// Duplicate means the same snippet id or content is already live.
	Duplicate Decision = "duplicate"
	// Ignored means a near-duplicate with an equal or better claim is live.
	Ignored  Decision = "ignored"
	Rejected Decision = "rejected"
	Failed   Decision = "failed"
)

type Outcome struct {
	Decision  Decision `json:"decision"`
	SnippetID string   `json:"snippet_id"`
	DocID     uint64   `json:"doc_id,omitempty"`
	// SupersededID is the doc tombstoned by this record, or for Ignored the
	// doc that represents its bucket.
	SupersededID uint64 `json:"superseded_doc_id,omitempty"`
}

// Result pairs an outcome with its error for batch ingestion.
type Result struct {
	Outcome
	Err error `json:"-"`
}

// prepared is a record analyzed outside the writer lock.
type prepared struct {
	doc        *index.Document
	contentKey string
	terms      map[string]*index.Posting
	sig        dedup.Signature
}

func (m *Manager) prepare(rec snippet.Record) (*prepared, error) {
	rec = snippet.Normalize(rec)
	if err := snippet.Validate(rec, m.ingestCfg.MaxTextBytes); err != nil {
		return nil, err
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}
	tokens := analysis.Analyze(rec.Text, rec.Language)
	terms, length := index.Invert(tokens)
	p := &prepared{
		doc:        &index.Document{Length: length, Record: rec},
		contentKey: snippet.ContentKey(rec),
		terms:      terms,
	}
	if m.dedupOn {
		p.sig = dedup.Fingerprint(tokens, m.dedupCfg)
	}
	return p, nil
}

// Ingest analyzes, deduplicates and commits one record. The record is
// durable in the metastore before it becomes visible; a StorageFault leaves
// the index unchanged and the call may be retried.
func (m *Manager) Ingest(ctx context.Context, rec snippet.Record) (Outcome, error) {
	start := time.Now()
	out, err := m.ingest(ctx, rec)
	m.metrics.SnippetsIngested.WithLabelValues(string(out.Decision)).Inc()
	m.metrics.IngestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		m.logger.Debug("snippet not ingested", "snippet_id", out.SnippetID, "decision", out.Decision, "error", err)
		return out, err
	}
	m.logger.Debug("snippet ingested",
		"snippet_id", out.SnippetID,
		"doc_id", out.DocID,
		"decision", out.Decision,
	)
	return out, nil
}

func (m *Manager) ingest(ctx context.Context, rec snippet.Record) (Outcome, error) {
	p, err := m.prepare(rec)
	if err != nil {
		return Outcome{Decision: Rejected, SnippetID: rec.ID}, err
	}
	out := Outcome{SnippetID: p.doc.ID}
	if err := ctx.Err(); err != nil {
		out.Decision = Failed
		return out, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		out.Decision = Failed
		return out, apperrors.ErrClosed
	}

	if docID, ok, err := m.store.Lookup(p.doc.ID, p.contentKey); err != nil {
		out.Decision = Failed
		return out, apperrors.Fault("lookup snippet", m.store.Path(), err)
	} else if ok {
		if m.residentLocked(docID) {
			out.Decision, out.DocID = Duplicate, docID
			return out, nil
		}
		// Registered in a segment that was quarantined; the commit below
		// re-registers the snippet under a new doc id.
		m.logger.Warn("re-ingesting snippet lost with a quarantined segment",
			"snippet_id", p.doc.ID,
			"lost_doc_id", docID,
		)
	}

	kind := dedup.Insert
	var old *dedup.Entry
	if len(p.sig) > 0 {
		if best, _, ok := m.dups.Best(p.sig); ok {
			d := dedup.Resolve(dedup.Candidate{
				SnippetID: p.doc.ID,
				Score:     p.doc.Score,
				FetchedAt: p.doc.FetchedAt,
			}, &best)
			kind, old = d.Kind, d.Old
		}
	}
	if kind == dedup.Ignore {
		out.Decision, out.SupersededID = Ignored, old.DocID
		return out, nil
	}

	p.doc.DocID = m.nextDocID
	c := metastore.Commit{Doc: p.doc, Segment: m.active.ID(), ContentKey: p.contentKey}
	var entry dedup.Entry
	if len(p.sig) > 0 {
		entry = dedup.Entry{
			DocID:     p.doc.DocID,
			SnippetID: p.doc.ID,
			Score:     p.doc.Score,
			FetchedAt: p.doc.FetchedAt,
			Sig:       p.sig,
		}
		c.Fingerprint = &entry
	}
	if kind == dedup.Supersede {
		c.Supersede = old.DocID
	}
	if err := m.store.Commit(c); err != nil {
		out.Decision = Failed
		return out, err
	}

	m.nextDocID++
	m.active.Add(p.doc, p.terms)
	m.liveDocs++
	m.totalLength += int64(p.doc.Length)
	if c.Fingerprint != nil {
		m.dups.Add(entry)
	}
	out.Decision, out.DocID = Inserted, p.doc.DocID
	if kind == dedup.Supersede {
		m.tombstoneLocked(old.DocID)
		out.Decision, out.SupersededID = Superseded, old.DocID
	}
	m.publishLocked()

	if m.shouldSealLocked() {
		// The record is already durable; a failed seal is retried by the
		// next trigger and does not fail this ingest.
		if err := m.sealLocked(ctx); err != nil {
			m.logger.Error("seal after ingest failed", "error", err)
		}
	}
	return out, nil
}

// residentLocked reports whether docID is stored in the active segment or a
// loaded sealed segment. Documents of quarantined segments are not.
func (m *Manager) residentLocked(docID uint64) bool {
	if _, ok := m.active.View().Ord(docID); ok {
		return true
	}
	for _, s := range m.sealed {
		if _, ok := s.reader.Ord(docID); ok {
			return true
		}
	}
	return false
}

// tombstoneLocked hides docID from later snapshots and drops it from the
// dedup index. The metastore must already record the tombstone.
func (m *Manager) tombstoneLocked(docID uint64) bool {
	m.dups.Remove(docID)
	view := m.active.View()
	if ord, ok := view.Ord(docID); ok {
		if m.activeDeleted.Contains(ord) {
			return false
		}
		m.activeDeleted = withBit(m.activeDeleted, ord)
		m.liveDocs--
		m.totalLength -= int64(view.DocLength(ord))
		return true
	}
	for _, s := range m.sealed {
		ord, ok := s.reader.Ord(docID)
		if !ok {
			continue
		}
		if s.deleted.Contains(ord) {
			return false
		}
		s.deleted = withBit(s.deleted, ord)
		m.liveDocs--
		m.totalLength -= int64(s.reader.DocLength(ord))
		return true
	}
	return false
}

// Remove tombstones the live document registered under snippetID.
func (m *Manager) Remove(ctx context.Context, snippetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.ErrClosed
	}
	docID, err := m.store.DocID(snippetID)
	if err != nil {
		return err
	}
	if err := m.store.Tombstone(docID); err != nil {
		return err
	}
	m.tombstoneLocked(docID)
	m.publishLocked()
	m.logger.Info("snippet removed", "snippet_id", snippetID, "doc_id", docID)
	return nil
}

// IngestBatch ingests records on a bounded worker pool. Analysis runs in
// parallel; commits are serialized by the writer lock. Results are in input
// order and one record's failure never affects another.
func (m *Manager) IngestBatch(ctx context.Context, recs []snippet.Record) []Result {
	results := make([]Result, len(recs))
	g := new(errgroup.Group)
	g.SetLimit(max(m.ingestCfg.Workers, 1))
	for i := range recs {
		g.Go(func() error {
			out, err := m.Ingest(ctx, recs[i])
			results[i] = Result{Outcome: out, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// Summarize counts batch results by decision.
func Summarize(results []Result) map[Decision]int {
	counts := make(map[Decision]int)
	for _, r := range results {
		counts[r.Decision]++
	}
	return counts
}

// FirstError returns the first non-ingestion error of a batch, the kind a
// caller should retry.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, apperrors.ErrIngestion) {
			return fmt.Errorf("snippet %s: %w", r.SnippetID, r.Err)
		}
	}
	return nil
}
