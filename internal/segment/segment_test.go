package segment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

type testDoc struct {
	id   uint64
	text string
	lang string
}

func buildActive(segID uint64, docs ...testDoc) *index.Active {
	a := index.NewActive(segID)
	for _, d := range docs {
		terms, length := index.Invert(analysis.Analyze(d.text, d.lang))
		a.Add(&index.Document{
			DocID:  d.id,
			Length: length,
			Record: snippet.Record{
				ID:         snippet.DeriveID("", d.text),
				Text:       d.text,
				Language:   d.lang,
				SourceKind: snippet.SourceStackOverflow,
				Tags:       []string{d.lang},
				Score:      float64(d.id),
				FetchedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
		}, terms)
	}
	return a
}

func writeSegment(t *testing.T, dir string, segID uint64, docs ...testDoc) *Reader {
	t.Helper()
	a := buildActive(segID, docs...)
	path, err := NewWriter(dir, false).WriteActive(context.Background(), segID, a.Documents(), a.Entries())
	require.NoError(t, err)
	assert.Equal(t, Path(dir, segID), path)
	r, err := OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	docs := []testDoc{
		{1, "def parse_json(s): return json.loads(s)", "python"},
		{5, "JSON.parse(s)", "javascript"},
		{9, "print('hello')", "python"},
	}
	a := buildActive(3, docs...)
	r := writeSegment(t, dir, 3, docs...)

	assert.Equal(t, uint64(3), r.ID())
	assert.Equal(t, 3, r.DocCount())
	assert.Equal(t, len(a.Entries()), r.Terms())
	h := r.Header()
	assert.Equal(t, uint64(1), h.MinDocID)
	assert.Equal(t, uint64(9), h.MaxDocID)

	for _, e := range a.Entries() {
		got, err := r.Postings(e.Term)
		require.NoError(t, err)
		assert.Equal(t, e.Postings, got, e.Term)
		assert.Equal(t, len(e.Postings), r.DocFreq(e.Term))
	}
	missing, err := r.Postings("i:nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ord, ok := r.Ord(5)
	require.True(t, ok)
	doc, err := r.Document(ord)
	require.NoError(t, err)
	assert.Equal(t, "JSON.parse(s)", doc.Text)
	assert.Equal(t, a.Documents()[1].Length, r.DocLength(ord))
	_, ok = r.Ord(4)
	assert.False(t, ok)

	assert.Contains(t, r.TermsWithPrefix("i:pars"), "i:parse")
	assert.Equal(t, []uint32{0, 2}, r.Allowed(index.Filters{Languages: []string{"python"}}).ToArray())
	assert.NoError(t, r.Verify())
}

func TestOpenReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	r := writeSegment(t, dir, 1, testDoc{1, "alpha beta gamma", ""})
	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[HeaderSize+3] ^= 0xff
	truncated := data[:len(data)-FooterSize]
	badHeader := append([]byte(nil), data...)
	badHeader[17] ^= 0x01

	tests := []struct {
		name string
		data []byte
	}{
		{"body bit flip", flipped},
		{"missing footer", truncated},
		{"header bit flip", badHeader},
		{"empty file", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName(1))
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))
			_, err := OpenReader(path)
			var cse *apperrors.CorruptSegmentError
			require.True(t, errors.As(err, &cse), "got %v", err)
			assert.ErrorIs(t, err, apperrors.ErrCorruptSegment)
		})
	}

	_, err = OpenReader(filepath.Join(dir, FileName(42)))
	assert.ErrorIs(t, err, apperrors.ErrCorruptSegment)
}

func TestBuilderRejectsOutOfOrderInput(t *testing.T) {
	b, err := NewWriter(t.TempDir(), true).Create(context.Background(), 1)
	require.NoError(t, err)
	defer b.Abort()

	_, err = b.AddDocument(&index.Document{DocID: 5})
	require.NoError(t, err)
	_, err = b.AddDocument(&index.Document{DocID: 5})
	assert.Error(t, err)

	require.NoError(t, b.AddTerm("i:b", index.PostingList{{Ord: 0, Frequency: 1, Positions: []int{0}}}))
	assert.Error(t, b.AddTerm("i:a", index.PostingList{{Ord: 0, Frequency: 1, Positions: []int{0}}}))
	assert.Error(t, b.AddTerm("i:c", index.PostingList{{Ord: 3, Frequency: 1, Positions: []int{0}}}))
}

func TestMergeDropsTombstonesAndKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	r1 := writeSegment(t, dir, 1,
		testDoc{1, "alpha beta", ""},
		testDoc{2, "alpha gamma", ""},
	)
	r2 := writeSegment(t, dir, 2,
		testDoc{3, "beta gamma", ""},
		testDoc{4, "alpha delta", ""},
	)
	del1 := roaring.BitmapOf(1)
	del2 := roaring.New()

	w := NewWriter(dir, false).Throttled(1 << 30)
	res, err := Merge(context.Background(), w, 3, []MergeInput{{r1, del1}, {r2, del2}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Docs)
	assert.Equal(t, []uint64{2}, res.Dropped)

	merged, err := OpenReader(res.Path)
	require.NoError(t, err)
	defer merged.Close()

	assert.Equal(t, uint64(1), merged.DocID(0))
	assert.Equal(t, uint64(3), merged.DocID(1))
	assert.Equal(t, uint64(4), merged.DocID(2))

	alpha, err := merged.Postings("i:alpha")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, index.Ords(alpha))

	gamma, err := merged.Postings("i:gamma")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, index.Ords(gamma))

	for _, term := range merged.TermList() {
		pl, err := merged.Postings(term)
		require.NoError(t, err)
		require.NotEmpty(t, pl, term)
		for i := 1; i < len(pl); i++ {
			assert.Less(t, pl[i-1].Ord, pl[i].Ord, term)
		}
	}
}

func TestMergeEverythingDeleted(t *testing.T) {
	dir := t.TempDir()
	r := writeSegment(t, dir, 1, testDoc{7, "alpha", ""})

	res, err := Merge(context.Background(), NewWriter(dir, true), 2, []MergeInput{{r, roaring.BitmapOf(0)}})
	require.NoError(t, err)
	assert.Empty(t, res.Path)
	assert.Equal(t, []uint64{7}, res.Dropped)
	_, err = os.Stat(Path(dir, 2) + tmpSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Active)
	assert.Empty(t, m.Sealed)

	m.Sealed = append(m.Sealed, 1, 2)
	m.Active = 3
	m.NextSegmentID = 4
	require.NoError(t, m.Save(dir, false))

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, loaded.Sealed)
	assert.Equal(t, uint64(3), loaded.Active)

	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"active": 3`), []byte(`"active": 5`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))
	_, err = LoadManifest(dir)
	assert.Error(t, err)
}

func TestOrphans(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{FileName(1), FileName(2), FileName(3) + tmpSuffix, "MANIFEST.tmp", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	m := NewManifest()
	m.Sealed = []uint64{1}

	orphans, err := Orphans(dir, m)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, FileName(2)),
		filepath.Join(dir, FileName(3)+tmpSuffix),
		filepath.Join(dir, "MANIFEST.tmp"),
	}, orphans)
}

func TestFileNames(t *testing.T) {
	id, ok := ParseFileName(FileName(12))
	assert.True(t, ok)
	assert.Equal(t, uint64(12), id)
	_, ok = ParseFileName("seg-x.snip")
	assert.False(t, ok)
}

func TestDecodePostingsTruncated(t *testing.T) {
	buf := appendPostings(nil, index.PostingList{{Ord: 3, Frequency: 2, Positions: []int{1, 4}}, {Ord: 9, Frequency: 1, Positions: []int{0}}})
	pl, err := decodePostings(buf)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 9}, index.Ords(pl))
	assert.Equal(t, []int{1, 4}, pl[0].Positions)

	_, err = decodePostings(buf[:len(buf)-1])
	assert.Error(t, err)
}
