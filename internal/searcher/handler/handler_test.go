package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

type fakeExecutor struct {
	plan  *parser.QueryPlan
	req   executor.Request
	page  *executor.Page
	err   error
	delay time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, plan *parser.QueryPlan, req executor.Request) (*executor.Page, error) {
	f.plan = plan
	f.req = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeExecutor) Limit(requested int) int {
	if requested <= 0 {
		return 20
	}
	return min(requested, 100)
}

type fixedGeneration uint64

func (g fixedGeneration) Generation() uint64 { return uint64(g) }

func newHandler(exec *fakeExecutor) *Handler {
	cfg := config.Default().Search
	cfg.Timeout = time.Second
	return New(exec, fixedGeneration(1), nil, nil, cfg)
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSearchReturnsPage(t *testing.T) {
	exec := &fakeExecutor{page: &executor.Page{
		Query:     "parse json",
		Results:   []executor.Hit{{DocID: 1, SnippetID: "a", Score: 3.5}},
		TotalHits: 1,
	}}
	h := newHandler(exec)

	rec := get(h.Search, "/api/v1/search?q=parse+json&lang=py,go&source=so&tag=JSON&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var page executor.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 1, page.TotalHits)
	assert.Equal(t, "a", page.Results[0].SnippetID)

	assert.Equal(t, 5, exec.req.Limit)
	assert.Equal(t, []string{"go", "python"}, exec.req.Filters.Languages)
	assert.Equal(t, []snippet.SourceKind{snippet.SourceStackOverflow}, exec.req.Filters.SourceKinds)
	assert.Equal(t, []string{"json"}, exec.req.Filters.Tags)
	require.NotNil(t, exec.plan)
	assert.Len(t, exec.plan.Clauses, 2)
}

func TestSearchEmptyQueryIsAllowed(t *testing.T) {
	exec := &fakeExecutor{page: &executor.Page{}}
	rec := get(newHandler(exec).Search, "/api/v1/search")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, exec.req.Limit)
}

func TestSearchBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"unbalanced quote", `/api/v1/search?q=%22parse`},
		{"dangling operator", "/api/v1/search?q=json+AND"},
		{"unknown source", "/api/v1/search?q=json&source=reddit"},
		{"bad limit", "/api/v1/search?q=json&limit=abc"},
		{"zero limit", "/api/v1/search?q=json&limit=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{page: &executor.Page{}}
			rec := get(newHandler(exec).Search, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
			assert.Nil(t, exec.plan)
		})
	}
}

func TestSearchBadCursorIsClientError(t *testing.T) {
	_, err := executor.DecodeCursor("garbage")
	require.Error(t, err)
	exec := &fakeExecutor{err: err}
	rec := get(newHandler(exec).Search, "/api/v1/search?q=json&cursor=garbage")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "garbage", exec.req.Cursor)
}

func TestSearchTimeout(t *testing.T) {
	exec := &fakeExecutor{page: &executor.Page{}, delay: time.Second}
	cfg := config.Default().Search
	cfg.Timeout = 10 * time.Millisecond
	h := New(exec, fixedGeneration(1), nil, nil, cfg)

	rec := get(h.Search, "/api/v1/search?q=json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	h := newHandler(&fakeExecutor{})

	rec := get(h.CacheStats, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")

	rec = httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
