// Package handler exposes search, document upserts and index statistics
// over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

const maxBodyBytes = 256 << 20

type Searcher interface {
	Search(ctx context.Context, query string, opts executor.Options) (*executor.SearchResult, error)
	DefaultOptions() executor.Options
}

// Index is the part of *indexer.Index the handler drives.
type Index interface {
	Snapshot() (*index.Snapshot, error)
	Stats() (indexer.Stats, error)
	Update(ctx context.Context, fn func(w *indexer.Writer) error) (*indexer.CommitResult, error)
}

// DocumentBatch is applied in one writer session: deletes first, then
// upserts.
type DocumentBatch struct {
	Upsert []indexer.Input `json:"upsert" validate:"dive"`
	Delete []string        `json:"delete" validate:"dive,required"`
}

type DocumentView struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Lengths     map[string]int `json:"lengths"`
	RawLength   int            `json:"raw_length"`
	Content     string         `json:"content,omitempty"`
	Generation  uint64         `json:"generation"`
}

type Handler struct {
	searcher   Searcher
	index      Index
	cache      *cache.QueryCache
	maxResults int
	validate   *validator.Validate
	logger     *slog.Logger
}

func New(s Searcher, idx Index, queryCache *cache.QueryCache, maxResults int) *Handler {
	return &Handler{
		searcher:   s,
		index:      idx,
		cache:      queryCache,
		maxResults: maxResults,
		validate:   validator.New(),
		logger:     logger.WithComponent("search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/documents", h.Documents)
	mux.HandleFunc("GET /api/v1/documents/{id...}", h.Document)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	q := r.URL.Query()

	query := q.Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	opts := h.searcher.DefaultOptions()
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if h.maxResults > 0 && parsed > h.maxResults {
			parsed = h.maxResults
		}
		opts.Limit = parsed
	}
	if fragStr := q.Get("fragments"); fragStr != "" {
		parsed, err := strconv.Atoi(fragStr)
		if err != nil || parsed < 1 || parsed > 10 {
			h.writeError(w, http.StatusBadRequest, "fragments must be between 1 and 10")
			return
		}
		opts.Highlight.MaxFragments = parsed
	}

	result, err := h.searcher.Search(ctx, query, opts)
	if err != nil {
		log.Warn("search failed", "query", query, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Documents applies a batch of upserts and deletes atomically.
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var batch DocumentBatch
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := h.validate.Struct(batch); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(batch.Upsert) == 0 && len(batch.Delete) == 0 {
		h.writeError(w, http.StatusBadRequest, "batch has no documents")
		return
	}

	result, err := h.index.Update(ctx, func(wr *indexer.Writer) error {
		for _, id := range batch.Delete {
			var docErr *apperrors.DocumentError
			if err := wr.DeleteDocument(id); err != nil && !errors.As(err, &docErr) {
				return err
			}
		}
		return wr.AddDocuments(ctx, batch.Upsert)
	})
	if err != nil {
		logger.FromContext(ctx).Error("document batch failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.index.Snapshot()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	doc, ok := snap.Document(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", id))
		return
	}
	view := DocumentView{
		ID:          doc.ID,
		DisplayName: doc.DisplayName,
		Lengths:     doc.Lengths,
		RawLength:   doc.RawLength,
		Generation:  snap.Generation(),
	}
	if r.URL.Query().Get("content") == "true" {
		view.Content = doc.Content
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.index.Stats()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
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
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
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

// writeAppError maps err onto a status code. Syntax errors also carry the
// offending fragment and its offset.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.HTTPStatusCode(err)
	var qe *apperrors.QuerySyntaxError
	if errors.As(err, &qe) {
		h.writeJSON(w, code, map[string]any{
			"error":    qe.Error(),
			"fragment": qe.Fragment,
			"offset":   qe.Offset,
		})
		return
	}
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		h.writeError(w, code, "internal error")
		return
	}
	h.writeError(w, code, err.Error())
}
