package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler exposes aggregated audit stats over HTTP. store may be nil when
// snapshot persistence is disabled.
type Handler struct {
	aggregator *Aggregator
	store      *Store
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator, store *Store) *Handler {
	return &Handler{
		aggregator: aggregator,
		store:      store,
		logger:     slog.Default().With("component", "audit-handler"),
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to write audit stats response", "error", err)
	}
}

// LatestSnapshot serves the most recent persisted stats snapshot, which may
// predate the current aggregator process.
func (h *Handler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"snapshot persistence is disabled"}`))
		return
	}

	stats, err := h.store.LatestSnapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to load snapshot", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to load snapshot"}`))
		return
	}
	if stats == nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no snapshots recorded yet"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to write snapshot response", "error", err)
	}
}
