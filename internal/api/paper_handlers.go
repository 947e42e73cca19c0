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

	"github.com/JakeFAU/paper-harvester/internal/paper"
)

const (
	maxPaperLimit = 500
	paperTimeout  = 5 * time.Second
)

// PaperHandler exposes read-only paper endpoints over a paper.Store.
type PaperHandler struct {
	store   paper.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewPaperHandler wires the store and logger.
func NewPaperHandler(store paper.Store, logger *zap.Logger) *PaperHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperHandler{store: store, timeout: paperTimeout, logger: logger}
}

// List handles GET /api/papers?year=&semester=&branch=&subject=&search=&limit=&offset=.
// A non-empty search term switches to substring search and ignores the
// other filters.
func (h *PaperHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "paper store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, paper.DefaultLimit, maxPaperLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	term := strings.TrimSpace(q.Get("search"))
	if term == "" {
		term = strings.TrimSpace(q.Get("q"))
	}

	var papers []paper.Record
	if term != "" {
		papers, err = h.store.Search(ctx, term, limit)
	} else {
		papers, err = h.store.List(ctx, paper.Filter{
			Year:     strings.TrimSpace(q.Get("year")),
			Semester: strings.TrimSpace(q.Get("semester")),
			Branch:   strings.TrimSpace(q.Get("branch")),
			Subject:  strings.TrimSpace(q.Get("subject")),
			Limit:    limit,
			Offset:   offset,
		})
	}
	if err != nil {
		h.logger.Error("list papers failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list papers")
		return
	}
	if papers == nil {
		papers = []paper.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers, "count": len(papers)})
}

// Get handles GET /api/papers/{paper_id}.
func (h *PaperHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paper": rec})
}

// Download handles GET /api/papers/{paper_id}/download. It reports the
// stored copy when one exists, else the portal link.
func (h *PaperHandler) Download(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"download_url": rec.DownloadURL(),
		"title":        rec.Title,
	})
}

// Filters handles GET /api/filters.
func (h *PaperHandler) Filters(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "paper store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	out := make(map[string][]string, 3)
	for key, field := range map[string]paper.Field{
		"years":     paper.FieldYear,
		"semesters": paper.FieldSemester,
		"branches":  paper.FieldBranch,
	} {
		values, err := h.store.Distinct(ctx, field)
		if err != nil {
			h.logger.Error("list filter values failed", zap.String("field", string(field)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load filters")
			return
		}
		if values == nil {
			values = []string{}
		}
		out[key] = values
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PaperHandler) load(w http.ResponseWriter, r *http.Request) (paper.Record, bool) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "paper store unavailable")
		return paper.Record{}, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "paper_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "paper_id is required")
		return paper.Record{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, paper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "paper not found")
			return paper.Record{}, false
		}
		h.logger.Error("get paper failed", zap.String("paper_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load paper")
		return paper.Record{}, false
	}
	return rec, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
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
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
