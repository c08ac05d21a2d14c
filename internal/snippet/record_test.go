package snippet

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

func TestDeriveIDIsStable(t *testing.T) {
	a := DeriveID("https://so.example/q/1", "print(1)")
	b := DeriveID("https://so.example/q/1", "print(1)")
	c := DeriveID("https://so.example/q/2", "print(1)")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, idHexLen)
	assert.NotEqual(t, DeriveID("ab", "c"), DeriveID("a", "bc"))
}

func TestNormalize(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	r := Normalize(Record{
		ID:         "  ",
		Text:       "x = 1",
		Language:   " Py ",
		SourceKind: "SO",
		Tags:       []string{"Python", "python", " list ", ""},
		FetchedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, loc),
	})
	assert.Equal(t, "python", r.Language)
	assert.Equal(t, SourceStackOverflow, r.SourceKind)
	assert.Equal(t, []string{"list", "python"}, r.Tags)
	assert.Equal(t, DeriveID("", "x = 1"), r.ID)
	assert.Equal(t, time.UTC, r.FetchedAt.Location())

	assert.Equal(t, SourceOther, Normalize(Record{Text: "x"}).SourceKind)
	assert.Equal(t, SourceKind("bogus"), Normalize(Record{Text: "x", SourceKind: "bogus"}).SourceKind)
}

func TestValidate(t *testing.T) {
	valid := Normalize(Record{ID: "so-1", Text: "print(1)", SourceKind: SourceGist, Score: 3})
	require.NoError(t, Validate(valid, 1024))

	tests := []struct {
		name   string
		mutate func(*Record)
		field  string
	}{
		{"empty text", func(r *Record) { r.Text = "  \n" }, "text"},
		{"oversized text", func(r *Record) { r.Text = strings.Repeat("a", 2048) }, "text"},
		{"missing id", func(r *Record) { r.ID = "" }, "id"},
		{"long id", func(r *Record) { r.ID = strings.Repeat("x", 513) }, "id"},
		{"invalid utf8 id", func(r *Record) { r.ID = "\xff\xfe" }, "id"},
		{"unknown source", func(r *Record) { r.SourceKind = "forum" }, "source_kind"},
		{"nan score", func(r *Record) { r.Score = math.NaN() }, "score"},
		{"future fetch", func(r *Record) { r.FetchedAt = time.Now().Add(72 * time.Hour) }, "fetched_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := Validate(r, 1024)
			var ie *apperrors.IngestionError
			require.True(t, errors.As(err, &ie))
			assert.Contains(t, ie.Fields, tt.field)
			assert.ErrorIs(t, err, apperrors.ErrIngestion)
		})
	}

	assert.NoError(t, Validate(Record{ID: "a", Text: strings.Repeat("a", 4096), SourceKind: SourceDoc}, 0))
}

func TestParseSourceKind(t *testing.T) {
	k, err := ParseSourceKind("Stack_Overflow")
	require.NoError(t, err)
	assert.Equal(t, SourceStackOverflow, k)
	_, err = ParseSourceKind("mailing-list")
	assert.Error(t, err)
}
