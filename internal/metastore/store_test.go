package metastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/dedup"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func doc(docID uint64, id, text string) *index.Document {
	return &index.Document{
		DocID:  docID,
		Length: 3,
		Record: snippet.Record{ID: id, Text: text, SourceKind: snippet.SourceGist, FetchedAt: time.Unix(1700000000, 0).UTC()},
	}
}

func TestCommitAndLookup(t *testing.T) {
	s := openStore(t, t.TempDir())

	next, err := s.NextDocID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	entry := &dedup.Entry{DocID: 1, SnippetID: "a", Score: 2, Sig: dedup.Signature{1, 2, 3, 4}}
	require.NoError(t, s.Commit(Commit{Doc: doc(1, "a", "print(1)"), Segment: 1, ContentKey: "ck-a", Fingerprint: entry}))
	require.NoError(t, s.Commit(Commit{Doc: doc(2, "b", "print(2)"), Segment: 1, ContentKey: "ck-b"}))

	id, ok, err := s.Lookup("a", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), id)

	id, ok, err = s.Lookup("other-id", "ck-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)

	next, err = s.NextDocID()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)

	pending, err := s.Pending(1)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "print(1)", pending[0].Text)
	assert.Equal(t, uint64(2), pending[1].DocID)

	var fps []dedup.Entry
	require.NoError(t, s.Fingerprints(func(e dedup.Entry) error {
		fps = append(fps, e)
		return nil
	}))
	require.Len(t, fps, 1)
	assert.Equal(t, entry.Sig, fps[0].Sig)
}

func TestSupersedeTombstonesInSameCommit(t *testing.T) {
	s := openStore(t, t.TempDir())
	old := &dedup.Entry{DocID: 1, SnippetID: "old", Sig: dedup.Signature{9}}
	require.NoError(t, s.Commit(Commit{Doc: doc(1, "old", "x"), Segment: 1, ContentKey: "ck-old", Fingerprint: old}))
	require.NoError(t, s.Commit(Commit{Doc: doc(2, "new", "x!"), Segment: 1, ContentKey: "ck-new", Supersede: 1}))

	_, ok, err := s.Lookup("old", "ck-old")
	require.NoError(t, err)
	assert.False(t, ok)

	tombs, err := s.Tombstones()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, tombs)

	n := 0
	require.NoError(t, s.Fingerprints(func(dedup.Entry) error { n++; return nil }))
	assert.Zero(t, n)

	_, err = s.DocID("old")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.PurgeTombstones([]uint64{1}))
	tombs, err = s.Tombstones()
	require.NoError(t, err)
	assert.Empty(t, tombs)
}

func TestPendingSurvivesReopenAndDrops(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.Commit(Commit{Doc: doc(5, "a", "x"), Segment: 3}))
	require.NoError(t, s.Commit(Commit{Doc: doc(6, "b", "y"), Segment: 4}))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	segs, err := s.PendingSegments()
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, segs)

	require.NoError(t, s.DropPending(3, 99))
	segs, err = s.PendingSegments()
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, segs)

	counts, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, Counts{Live: 2, Pending: 1}, counts)
}

func TestReserveDocIDsNeverMovesBackwards(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.ReserveDocIDs(40))
	require.NoError(t, s.ReserveDocIDs(10))
	next, err := s.NextDocID()
	require.NoError(t, err)
	assert.Equal(t, uint64(40), next)
}

func TestCommitRejectsMissingDocument(t *testing.T) {
	s := openStore(t, t.TempDir())
	assert.ErrorIs(t, s.Commit(Commit{}), apperrors.ErrInvalidInput)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir(), true)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Tombstone(1), apperrors.ErrClosed)
}
