package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/metrics"
)

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, req executor.Request) (*executor.Page, error)
	Limit(requested int) int
}

// GenerationSource reports the index generation used in cache keys.
type GenerationSource interface {
	Generation() uint64
}

type Handler struct {
	executor   SearchExecutor
	generation GenerationSource
	cache      *cache.QueryCache
	metrics    *metrics.Metrics
	maxClauses int
	timeout    time.Duration
	logger     *slog.Logger
}

// New wires the search endpoint. queryCache may be nil to disable caching.
func New(exec SearchExecutor, gen GenerationSource, queryCache *cache.QueryCache, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		executor:   exec,
		generation: gen,
		cache:      queryCache,
		metrics:    m,
		maxClauses: cfg.MaxClauses,
		timeout:    cfg.Timeout,
		logger:     slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /api/v1/search?q=&lang=&source=&tag=&cursor=&limit=.
// lang, source and tag may repeat or hold comma-separated lists.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	query := params.Get("q")
	filters, err := parseFilters(params)
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("parse_error").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if limitStr := params.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	limit = h.executor.Limit(limit)

	plan, err := parser.Parse(query, h.maxClauses)
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("parse_error").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := executor.Request{Query: query, Filters: filters, Cursor: params.Get("cursor"), Limit: limit}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var page *executor.Page
	cacheStatus := "disabled"
	if h.cache != nil {
		// The executor takes its own snapshot; when a commit lands in
		// between, the page carries a newer generation and is not stored
		// under this key.
		key := cache.Key{
			Query:      plan.Normalized(),
			Filters:    filters,
			Cursor:     req.Cursor,
			Limit:      limit,
			Generation: h.generation.Generation(),
		}
		var hit bool
		page, hit, err = h.cache.GetOrCompute(ctx, key, func() (*executor.Page, error) {
			return h.executor.Execute(ctx, plan, req)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		page, err = h.executor.Execute(ctx, plan, req)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		status := apperrors.HTTPStatusCode(err)
		if status == http.StatusBadRequest {
			h.metrics.SearchQueriesTotal.WithLabelValues("parse_error").Inc()
			h.writeError(w, status, err.Error())
			return
		}
		h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, status, "search failed")
		return
	}

	latency := time.Since(start)
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(page.Results)))
	resultType := "hit"
	if page.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()

	log.Info("search completed",
		"query", query,
		"total_hits", page.TotalHits,
		"returned", len(page.Results),
		"cache_status", cacheStatus,
		"degraded", page.Degraded,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, page)
}

func parseFilters(params map[string][]string) (index.Filters, error) {
	var f index.Filters
	f.Languages = splitValues(params["lang"])
	f.Tags = splitValues(params["tag"])
	for _, s := range splitValues(params["source"]) {
		kind, err := snippet.ParseSourceKind(s)
		if err != nil {
			return index.Filters{}, err
		}
		f.SourceKinds = append(f.SourceKinds, kind)
	}
	return f.Normalize(), nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":      hits,
		"misses":    misses,
		"total":     total,
		"hit_rate":  fmt.Sprintf("%.1f%%", hitRate),
		"available": h.cache.Available(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
