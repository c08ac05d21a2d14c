package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

func setup(t *testing.T) (*indexer.Manager, *failures.Memory, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Index.DataDir = t.TempDir()
	cfg.Index.NoSync = true
	cfg.Index.CompactionBytesPerSec = 0
	m, err := indexer.Open(cfg.Index, indexer.Options{Dedup: cfg.Dedup, Ingest: cfg.Ingest})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	log := &failures.Memory{}
	h := New(m, log)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/snippets", h.Ingest)
	mux.HandleFunc("DELETE /api/v1/snippets/{id}", h.Remove)
	mux.HandleFunc("POST /api/v1/index/flush", h.Flush)
	mux.HandleFunc("POST /api/v1/index/compact", h.Compact)
	mux.HandleFunc("GET /api/v1/index/stats", h.Stats)
	return m, log, mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) IngestResponse {
	t.Helper()
	var resp IngestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

const single = `{"id":"so-1","text":"def parse_json(s):\n    return json.loads(s)","language":"python","source_kind":"stackoverflow","score":4}`

func TestIngestSingleRecord(t *testing.T) {
	m, _, h := setup(t)

	rec := do(t, h, http.MethodPost, "/api/v1/snippets", single)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, indexer.Inserted, resp.Results[0].Decision)
	assert.Equal(t, "so-1", resp.Results[0].SnippetID)
	assert.Equal(t, 1, m.Stats().LiveDocs)

	rec = do(t, h, http.MethodPost, "/api/v1/snippets", single)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, indexer.Duplicate, decode(t, rec).Results[0].Decision)
}

func TestIngestBatchReportsEachRecord(t *testing.T) {
	_, log, h := setup(t)
	body := `{"records":[
		{"id":"a","text":"fn main() { println!(\"hello\"); }","language":"rust"},
		{"id":"b","text":"","language":"go"},
		{"id":"c","text":"SELECT name FROM users WHERE id = 1","language":"sql"}
	]}`

	rec := do(t, h, http.MethodPost, "/api/v1/snippets", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, indexer.Inserted, resp.Results[0].Decision)
	assert.Equal(t, indexer.Rejected, resp.Results[1].Decision)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Equal(t, indexer.Inserted, resp.Results[2].Decision)
	assert.Equal(t, 2, resp.Summary[indexer.Inserted])
	assert.Equal(t, 1, resp.Summary[indexer.Rejected])

	logged := log.All()
	require.Len(t, logged, 1)
	assert.Equal(t, "b", logged[0].SnippetID)
	assert.Equal(t, "http", logged[0].Origin)
}

func TestIngestRejectsBadBodies(t *testing.T) {
	_, _, h := setup(t)

	rec := do(t, h, http.MethodPost, "/api/v1/snippets", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/snippets", `{"records":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/snippets", `{"id":"x","text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, indexer.Rejected, decode(t, rec).Results[0].Decision)
}

func TestRemove(t *testing.T) {
	m, _, h := setup(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/snippets", single).Code)

	rec := do(t, h, http.MethodDelete, "/api/v1/snippets/so-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, m.Stats().LiveDocs)

	rec = do(t, h, http.MethodDelete, "/api/v1/snippets/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlushCompactAndStats(t *testing.T) {
	m, _, h := setup(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/snippets", single).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/index/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, m.Stats().SealedSegments, 1)

	rec = do(t, h, http.MethodPost, "/api/v1/index/compact", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/index/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st indexer.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, 1, st.LiveDocs)
}

func TestClosedIndexIsUnavailable(t *testing.T) {
	m, _, h := setup(t)
	require.NoError(t, m.Close())

	rec := do(t, h, http.MethodPost, "/api/v1/snippets", single)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/index/flush", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
