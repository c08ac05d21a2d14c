package spool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

type fakeIndex struct {
	mu    sync.Mutex
	recs  []snippet.Record
	fault error
}

func (f *fakeIndex) IngestBatch(_ context.Context, recs []snippet.Record) []indexer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]indexer.Result, len(recs))
	for i, r := range recs {
		switch {
		case f.fault != nil:
			out[i] = indexer.Result{Outcome: indexer.Outcome{Decision: indexer.Failed, SnippetID: r.ID}, Err: f.fault}
		case r.Text == "":
			out[i] = indexer.Result{
				Outcome: indexer.Outcome{Decision: indexer.Rejected, SnippetID: r.ID},
				Err:     &apperrors.IngestionError{SnippetID: r.ID, Fields: map[string]string{"text": "is required"}},
			}
		default:
			f.recs = append(f.recs, r)
			out[i] = indexer.Result{Outcome: indexer.Outcome{Decision: indexer.Inserted, SnippetID: r.ID}}
		}
	}
	return out
}

func (f *fakeIndex) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.recs))
	for i, r := range f.recs {
		out[i] = r.ID
	}
	return out
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setupDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DoneDir), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, FailedDir), 0o755))
	return dir
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()

	recs, bad, err := ReadRecords(write(t, dir, "one.json", `{"id":"a","text":"x = 1"}`))
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)

	recs, _, err = ReadRecords(write(t, dir, "many.json", `[{"id":"a","text":"x"},{"id":"b","text":"y"}]`))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, bad, err = ReadRecords(write(t, dir, "lines.jsonl", "{\"id\":\"a\",\"text\":\"x\"}\n\nnot json\n{\"id\":\"b\",\"text\":\"y\"}\n"))
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0].Error(), "line 3")

	_, _, err = ReadRecords(write(t, dir, "broken.json", `{"id":`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, _, err = ReadRecords(write(t, dir, "garbage.jsonl", "nope\nnope\n"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAccepts(t *testing.T) {
	assert.True(t, Accepts("/spool/a.json"))
	assert.True(t, Accepts("b.JSONL"))
	assert.False(t, Accepts("c.txt"))
	assert.False(t, Accepts(".hidden.json"))
}

func TestProcessFileMovesToDone(t *testing.T) {
	dir := setupDirs(t)
	idx := &fakeIndex{}
	log := &failures.Memory{}
	w := New(dir, idx, log)

	path := write(t, dir, "batch.jsonl", "{\"id\":\"a\",\"text\":\"x\"}\n{\"id\":\"b\",\"text\":\"\"}\n{oops\n")
	require.NoError(t, w.ProcessFile(context.Background(), path))

	assert.Equal(t, []string{"a"}, idx.ids())
	assert.NoFileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, DoneDir, "batch.jsonl"))
	assert.Len(t, log.All(), 2)
}

func TestProcessFileMovesUnreadableToFailed(t *testing.T) {
	dir := setupDirs(t)
	log := &failures.Memory{}
	w := New(dir, &fakeIndex{}, log)

	path := write(t, dir, "bad.json", "{{{")
	require.NoError(t, w.ProcessFile(context.Background(), path))
	assert.FileExists(t, filepath.Join(dir, FailedDir, "bad.json"))
	require.Len(t, log.All(), 1)
	assert.Equal(t, "bad.json", log.All()[0].SnippetID)
	assert.Equal(t, "spool", log.All()[0].Origin)
}

func TestProcessFileKeepsFileOnStorageFault(t *testing.T) {
	dir := setupDirs(t)
	idx := &fakeIndex{fault: apperrors.Fault("commit snippet", "meta.db", errors.New("disk full"))}
	w := New(dir, idx, &failures.Memory{})

	path := write(t, dir, "retry.json", `{"id":"a","text":"x"}`)
	err := w.ProcessFile(context.Background(), path)
	assert.ErrorIs(t, err, apperrors.ErrStorageFault)
	assert.FileExists(t, path)
}

func TestProcessFileKeepsBothOnNameClash(t *testing.T) {
	dir := setupDirs(t)
	w := New(dir, &fakeIndex{}, &failures.Memory{})

	require.NoError(t, w.ProcessFile(context.Background(), write(t, dir, "same.json", `{"id":"a","text":"x"}`)))
	require.NoError(t, w.ProcessFile(context.Background(), write(t, dir, "same.json", `{"id":"b","text":"y"}`)))
	entries, err := os.ReadDir(filepath.Join(dir, DoneDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunPicksUpExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	idx := &fakeIndex{}
	w := New(dir, idx, &failures.Memory{})
	w.debounce = 20 * time.Millisecond

	write(t, dir, "early.json", `{"id":"early","text":"x"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(idx.ids()) == 1 }, 5*time.Second, 10*time.Millisecond)
	write(t, dir, "late.jsonl", "{\"id\":\"late\",\"text\":\"y\"}\n")
	require.Eventually(t, func() bool { return len(idx.ids()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, idx.ids())

	cancel()
	require.NoError(t, <-done)
	assert.FileExists(t, filepath.Join(dir, DoneDir, "late.jsonl"))
}
