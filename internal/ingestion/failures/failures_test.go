package failures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

func TestLogFallsBackToStructuredLog(t *testing.T) {
	var buf bytes.Buffer
	l := &Log{logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := &apperrors.IngestionError{SnippetID: "s1", Fields: map[string]string{"text": "is required"}}
	l.Record(context.Background(), FromError(snippet.Record{ID: "s1", SourceURL: "https://gist.github.com/x"}, "kafka", err))

	out := buf.String()
	assert.Contains(t, out, `"snippet_id":"s1"`)
	assert.Contains(t, out, `"origin":"kafka"`)
	assert.Contains(t, out, "text: is required")

	assert.NoError(t, l.Migrate(context.Background()))
	_, rerr := l.Recent(context.Background(), 10)
	assert.ErrorIs(t, rerr, apperrors.ErrNotFound)
}

func TestMemoryRecorder(t *testing.T) {
	var m Memory
	var r Recorder = &m
	r.Record(context.Background(), Failure{SnippetID: "a", Reason: "bad"})
	r.Record(context.Background(), Failure{SnippetID: "b", Reason: "worse"})
	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[1].SnippetID)
}

func TestIsRecordable(t *testing.T) {
	assert.True(t, IsRecordable(fmt.Errorf("wrapped: %w", &apperrors.IngestionError{})))
	assert.False(t, IsRecordable(apperrors.Fault("write", "/tmp/x", errors.New("disk full"))))
}
