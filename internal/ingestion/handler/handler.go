// Package handler exposes ingestion and index administration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/logger"
)

const maxBodyBytes = 32 << 20

// Index is the part of the index manager the HTTP adapter drives.
type Index interface {
	IngestBatch(ctx context.Context, recs []snippet.Record) []indexer.Result
	Remove(ctx context.Context, snippetID string) error
	Flush(ctx context.Context) error
	Compact(ctx context.Context) error
	Stats() indexer.Stats
}

// IngestRequest accepts either a single record or {"records": [...]}.
type IngestRequest struct {
	Records []snippet.Record `json:"records"`
	snippet.Record
}

type RecordResult struct {
	indexer.Outcome
	Error string `json:"error,omitempty"`
}

type IngestResponse struct {
	Results []RecordResult           `json:"results"`
	Summary map[indexer.Decision]int `json:"summary"`
}

type Handler struct {
	index    Index
	failures failures.Recorder
	logger   *slog.Logger
}

func New(idx Index, rec failures.Recorder) *Handler {
	return &Handler{
		index:    idx,
		failures: rec,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// Ingest serves POST /api/v1/snippets. Every record gets its own outcome; a
// malformed record is logged as a failure and never affects the others.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	single := req.Records == nil
	recs := req.Records
	if single {
		recs = []snippet.Record{req.Record}
	}
	if len(recs) == 0 {
		h.writeError(w, http.StatusBadRequest, "no records")
		return
	}

	results := h.index.IngestBatch(ctx, recs)
	resp := IngestResponse{
		Results: make([]RecordResult, len(results)),
		Summary: indexer.Summarize(results),
	}
	for i, res := range results {
		resp.Results[i] = RecordResult{Outcome: res.Outcome}
		if res.Err == nil {
			continue
		}
		resp.Results[i].Error = res.Err.Error()
		if failures.IsRecordable(res.Err) {
			h.failures.Record(ctx, failures.FromError(recs[i], "http", res.Err))
		} else {
			log.Error("snippet ingestion failed", "snippet_id", res.SnippetID, "error", res.Err)
		}
	}

	log.Info("snippets ingested", "records", len(recs), "summary", resp.Summary)

	status := http.StatusOK
	if single && results[0].Err != nil {
		status = apperrors.HTTPStatusCode(results[0].Err)
	} else if err := indexer.FirstError(results); err != nil {
		status = apperrors.HTTPStatusCode(err)
	}
	h.writeJSON(w, status, resp)
}

// Remove serves DELETE /api/v1/snippets/{id}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "snippet id is required")
		return
	}
	if err := h.index.Remove(r.Context(), id); err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("snippet removal failed", "snippet_id", id, "error", err)
		}
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "snippet_id": id})
}

func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, "flushed", h.index.Flush)
}

func (h *Handler) Compact(w http.ResponseWriter, r *http.Request) {
	h.admin(w, r, "compacted", h.index.Compact)
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request, done string, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(apperrors.ErrTimeout, err)
		}
		logger.FromContext(r.Context()).Error("index operation failed", "operation", done, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": done, "stats": h.index.Stats()})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
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
