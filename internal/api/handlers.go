package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/alerts"
	"github.com/slicewatch/kpi-pipeline/internal/broker"
	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/utils"
)

// HistoryReader is the read-only view of the time-series store exposed to
// REST collaborators. Queries never mutate pipeline state.
type HistoryReader interface {
	History(sliceID string, since time.Time, limit int) []models.MetricSample
	Latest(sliceID string) (models.MetricSample, bool)
}

// StalenessReader reports the dashboard-facing staleness flag.
type StalenessReader interface {
	IsStale(sliceID string) bool
}

// Handlers serves the query surface used by the web and dashboard layers.
type Handlers struct {
	logger   *slog.Logger
	history  HistoryReader
	stale    StalenessReader
	summary  *alerts.Summary
	registry *broker.Registry
}

// NewHandlers constructs the query handlers.
func NewHandlers(logger *slog.Logger, history HistoryReader, stale StalenessReader, summary *alerts.Summary, registry *broker.Registry) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, history: history, stale: stale, summary: summary, registry: registry}
}

// Register mounts the query routes on the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /api/v1/slices/{id}/history", h.handleHistory)
	mux.HandleFunc("GET /api/v1/slices/{id}/latest", h.handleLatest)
	mux.HandleFunc("GET /api/v1/alerts/summary", h.handleAlertSummary)
	mux.HandleFunc("GET /api/v1/connections", h.handleConnections)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	sliceID := r.PathValue("id")

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = t
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	samples := h.history.History(sliceID, since, limit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"slice_id": sliceID,
		"count":    len(samples),
		"samples":  samples,
	})
}

func (h *Handlers) handleLatest(w http.ResponseWriter, r *http.Request) {
	sliceID := r.PathValue("id")
	sample, ok := h.history.Latest(sliceID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no samples for slice"})
		return
	}

	stale := false
	if h.stale != nil {
		stale = h.stale.IsStale(sliceID)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"slice_id": sliceID,
		"sample":   sample,
		"stale":    stale,
	})
}

func (h *Handlers) handleAlertSummary(w http.ResponseWriter, _ *http.Request) {
	if h.summary == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"slices": []alerts.SliceSummary{}})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"slices": h.summary.Snapshot()})
}

func (h *Handlers) handleConnections(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"active":   h.registry.Connections(),
		"by_topic": h.registry.Stats(),
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Debug("response encode failed", slog.Any("error", err))
	}
}
