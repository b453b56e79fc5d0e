package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/okian/worldwatch/internal/adapters/history"
	"github.com/okian/worldwatch/internal/domain/world"
)

// HistoryDependencies defines the interface for history reads.
type HistoryDependencies interface {
	History(ctx context.Context, id string) []history.Record
}

// HistoryHandler handles history requests.
type HistoryHandler struct {
	deps HistoryDependencies
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps HistoryDependencies) *HistoryHandler {
	return &HistoryHandler{deps: deps}
}

type historyResponse struct {
	ID      string           `json:"id"`
	Link    string           `json:"link"`
	Records []history.Record `json:"records"`
}

// HandleGetHistory handles GET /history/{world_id} requests.
func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := pathParam(r, "/history/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	records := h.deps.History(r.Context(), id)
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("world %q: %w", id, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		ID:      id,
		Link:    world.Snapshot{ID: id}.Link(),
		Records: records,
	})
}
