package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/cosmetics-harvester/internal/harvest"
	"github.com/maltedev/cosmetics-harvester/internal/models"
)

// ProgressSource is satisfied by *harvest.Tracker.
type ProgressSource interface {
	Snapshot() harvest.Progress
}

type Handlers struct {
	tracker    ProgressSource
	categories []models.CategorySpec
	maxCache   int
	logger     *slog.Logger
}

func NewHandlers(tracker ProgressSource, categories []models.CategorySpec, maxCache int, logger *slog.Logger) *Handlers {
	return &Handlers{
		tracker:    tracker,
		categories: categories,
		maxCache:   maxCache,
		logger:     logger,
	}
}

// CategoryStatus joins a configured category with its crawl outcome, if any.
type CategoryStatus struct {
	Path          string                  `json:"path"`
	ExpectedCount int                     `json:"expected_count"`
	Target        int                     `json:"target"`
	Crawl         *harvest.CategoryReport `json:"crawl,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	p := h.tracker.Snapshot()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"run_id": p.RunID,
		"phase":  p.Phase,
	})
}

func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	crawled := h.crawled()

	statuses := make([]CategoryStatus, 0, len(h.categories))
	for _, c := range h.categories {
		statuses = append(statuses, h.status(c, crawled))
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"categories": statuses,
		"count":      len(statuses),
	})
}

func (h *Handlers) GetCategory(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	for _, c := range h.categories {
		if c.Path == path {
			h.respondJSON(w, http.StatusOK, h.status(c, h.crawled()))
			return
		}
	}

	h.respondError(w, http.StatusNotFound, "category not found")
}

func (h *Handlers) crawled() map[string]harvest.CategoryReport {
	reports := make(map[string]harvest.CategoryReport)
	for _, cr := range h.tracker.Snapshot().Categories {
		reports[cr.Path] = cr
	}
	return reports
}

func (h *Handlers) status(c models.CategorySpec, crawled map[string]harvest.CategoryReport) CategoryStatus {
	s := CategoryStatus{
		Path:          c.Path,
		ExpectedCount: c.ExpectedCount,
		Target:        c.Target(h.maxCache),
	}
	if cr, ok := crawled[c.Path]; ok {
		s.Crawl = &cr
	}
	return s
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
