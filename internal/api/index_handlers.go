package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/store"
	"github.com/JakeFAU/searchcrawler/internal/urlfilter"
)

const (
	defaultTermLimit = 100
	maxTermLimit     = 1000
	indexTimeout     = 3 * time.Second
)

// IndexReader is the read side of the index store used by the admin routes.
type IndexReader interface {
	LookupFrontier(ctx context.Context, address string) (store.FrontierEntry, error)
	ListTerms(ctx context.Context, afterID int64, limit int) ([]store.Term, error)
	Occurrences(ctx context.Context, pageID int64) ([]store.Occurrence, error)
}

// IndexHandler exposes read-only views of the frontier and the inverted index.
type IndexHandler struct {
	index   IndexReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewIndexHandler wires the reader and logger.
func NewIndexHandler(index IndexReader, logger *zap.Logger) *IndexHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexHandler{index: index, timeout: indexTimeout, logger: logger}
}

type frontierDTO struct {
	ID      int64  `json:"id"`
	Address string `json:"address"`
	Visited bool   `json:"visited"`
	Score   int64  `json:"score"`
}

type termDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type occurrenceDTO struct {
	TermID    int64   `json:"term_id"`
	Term      string  `json:"term"`
	Counter   int64   `json:"counter"`
	Relevance float64 `json:"relevance"`
}

// GetFrontierEntry handles GET /v1/frontier?url=. The url is normalized the
// same way the crawler normalizes links before the lookup. It returns
// {"entry": {...}}, 400 for a url the crawler would reject, or 404.
func (h *IndexHandler) GetFrontierEntry(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeError(w, http.StatusServiceUnavailable, "index store unavailable")
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	verdict := urlfilter.Classify(raw)
	if !verdict.Accepted {
		writeError(w, http.StatusBadRequest, "url rejected: "+string(verdict.Reason))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entry, err := h.index.LookupFrontier(ctx, verdict.URL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "url not in frontier")
			return
		}
		h.logger.Error("frontier lookup failed", zap.String("url", verdict.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load frontier entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": frontierDTO{
		ID:      entry.ID,
		Address: entry.Address,
		Visited: entry.Visited,
		Score:   entry.Score,
	}})
}

// ListTerms handles GET /v1/terms?after=&limit=, paging terms in id order.
// The response carries "next_after" when more terms may follow.
func (h *IndexHandler) ListTerms(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeError(w, http.StatusServiceUnavailable, "index store unavailable")
		return
	}
	after, limit, err := parseKeyset(r, defaultTermLimit, maxTermLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	terms, err := h.index.ListTerms(ctx, after, limit)
	if err != nil {
		h.logger.Error("list terms failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list terms")
		return
	}
	out := make([]termDTO, 0, len(terms))
	for _, t := range terms {
		out = append(out, termDTO{ID: t.ID, Name: t.Name})
	}
	body := map[string]any{"terms": out}
	if len(terms) == limit {
		body["next_after"] = terms[len(terms)-1].ID
	}
	writeJSON(w, http.StatusOK, body)
}

// ListOccurrences handles GET /v1/pages/{page_id}/occurrences.
func (h *IndexHandler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeError(w, http.StatusServiceUnavailable, "index store unavailable")
		return
	}
	pageID, err := strconv.ParseInt(chi.URLParam(r, "page_id"), 10, 64)
	if err != nil || pageID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid page_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	occs, err := h.index.Occurrences(ctx, pageID)
	if err != nil {
		h.logger.Error("list occurrences failed", zap.Int64("page_id", pageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list occurrences")
		return
	}
	if len(occs) == 0 {
		writeError(w, http.StatusNotFound, "page not indexed")
		return
	}
	out := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		out = append(out, occurrenceDTO{TermID: o.TermID, Term: o.Term, Counter: o.Counter, Relevance: o.Relevance})
	}
	writeJSON(w, http.StatusOK, map[string]any{"page_id": pageID, "occurrences": out})
}

func parseKeyset(r *http.Request, def, maxLimit int) (int64, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	var after int64
	if afterStr := q.Get("after"); afterStr != "" {
		val, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid after")
		}
		after = val
	}
	return after, limit, nil
}
