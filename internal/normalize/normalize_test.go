package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/kafka"
)

func TestFromStackOverflow(t *testing.T) {
	scraped := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err := FromStackOverflow(SORecord{
		QuestionID: 42,
		AnswerID:   7,
		Code:       "  import json\nprint(json.loads('{}'))  ",
		Votes:      12,
		Tags:       []string{"JSON", "python"},
		ScrapedAt:  scraped,
	})
	require.NoError(t, err)
	assert.Equal(t, "so_42_7", rec.ID)
	assert.Equal(t, "import json\nprint(json.loads('{}'))", rec.Text)
	assert.Equal(t, "python", rec.Language)
	assert.Equal(t, snippet.SourceStackOverflow, rec.SourceKind)
	assert.Equal(t, "https://stackoverflow.com/questions/42#answer-7", rec.SourceURL)
	assert.Equal(t, []string{"json", "python"}, rec.Tags)
	assert.Equal(t, 12.0, rec.Score)
	assert.Equal(t, scraped, rec.FetchedAt)
}

func TestFromStackOverflowNegativeVotesClampToZero(t *testing.T) {
	rec, err := FromStackOverflow(SORecord{SnippetID: "so_1", Code: "SELECT id FROM users WHERE 1=1", Votes: -3, Tags: []string{"sql"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Score)
	assert.Equal(t, "sql", rec.Language)
}

func TestShortCodeIsRejected(t *testing.T) {
	_, err := FromStackOverflow(SORecord{SnippetID: "so_1", Code: "x = 1"})
	assert.ErrorIs(t, err, apperrors.ErrIngestion)
	var ie *apperrors.IngestionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "so_1", ie.SnippetID)

	_, err = FromGist(GistRecord{GistID: "abc", Code: "   short   "})
	assert.ErrorIs(t, err, apperrors.ErrIngestion)
}

func TestFromGist(t *testing.T) {
	rec, err := FromGist(GistRecord{
		GistID:    "abc123",
		Filename:  "retry.go",
		Code:      "func Retry(fn func() error) error {\n\treturn fn()\n}",
		HTMLURL:   "https://gist.github.com/someone/abc123",
		CreatedAt: "2024-06-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "gist_abc123", rec.ID)
	assert.Equal(t, "go", rec.Language)
	assert.Equal(t, snippet.SourceGist, rec.SourceKind)
	assert.Equal(t, "https://gist.github.com/someone/abc123", rec.SourceURL)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), rec.FetchedAt)
}

func TestDetectLanguageOrder(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		hints Hints
		want  string
	}{
		{"tag wins", "puts 'hello world from ruby'", Hints{Tags: []string{"arrays", "golang"}, Declared: "ruby"}, "go"},
		{"declared", "puts 'hello world from ruby'", Hints{Declared: "Ruby"}, "ruby"},
		{"shell tag", "ls -la", Hints{Tags: []string{"shell"}}, "bash"},
		{"csharp tag", "var x = 1;", Hints{Tags: []string{"csharp"}}, "csharp"},
		{"filename", "whatever", Hints{Filename: "main.rs"}, "rust"},
		{"shebang", "#!/bin/bash\necho hi", Hints{}, "bash"},
		{"nothing", "", Hints{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.code, tt.hints))
		})
	}
}

func TestMatchPatterns(t *testing.T) {
	assert.Equal(t, "python", matchPatterns("def main():\n    pass"))
	assert.Equal(t, "java", matchPatterns("public static void main(String[] args)"))
	assert.Equal(t, "", matchPatterns("   "))
}

func TestConvert(t *testing.T) {
	dump := `[
		{"snippet_id":"so_1_2","code":"def parse(s):\n    return json.loads(s)","tags":["python"]},
		{"snippet_id":"so_1_3","code":"tiny"}
	]`
	recs, rejected, err := Convert(KindStackOverflow, []byte(dump))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "so_1_2", recs[0].ID)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[1], apperrors.ErrIngestion)

	recs, _, err = Convert(KindGist, []byte(`{"gist_id":"g","filename":"a.py","code":"print('hello, world!!')"}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "python", recs[0].Language)

	_, _, err = Convert(KindGist, []byte(`[{`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("SO")
	require.NoError(t, err)
	assert.Equal(t, KindStackOverflow, k)
	_, err = ParseKind("reddit")
	assert.Error(t, err)
}

type recordingWriter struct {
	batches [][]kafka.Event
	fail    error
}

func (w *recordingWriter) PublishBatch(_ context.Context, events []kafka.Event) error {
	if w.fail != nil {
		return w.fail
	}
	w.batches = append(w.batches, events)
	return nil
}

func TestPublisherBatchesByID(t *testing.T) {
	recs := make([]snippet.Record, publishBatchSize+3)
	for i := range recs {
		recs[i] = snippet.Record{ID: snippet.DeriveID("", string(rune('a'+i%26))), Text: "x"}
	}
	w := &recordingWriter{}
	sent, err := NewPublisher(w).Publish(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, len(recs), sent)
	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[1], 3)
	assert.Equal(t, recs[0].ID, w.batches[0][0].Key)

	w = &recordingWriter{fail: errors.New("broker down")}
	sent, err = NewPublisher(w).Publish(context.Background(), recs)
	assert.Error(t, err)
	assert.Zero(t, sent)
}
