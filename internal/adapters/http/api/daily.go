package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/okian/worldwatch/internal/adapters/dailystats"
)

// DailyDependencies defines the interface for daily stats reads.
type DailyDependencies interface {
	DailyStats(ctx context.Context, source string) ([]dailystats.Row, error)
	Sources() []string
}

// DailyHandler handles daily stats requests.
type DailyHandler struct {
	deps DailyDependencies
}

// NewDailyHandler creates a new daily stats handler.
func NewDailyHandler(deps DailyDependencies) *DailyHandler {
	return &DailyHandler{deps: deps}
}

type dailyResponse struct {
	Source string           `json:"source"`
	Rows   []dailystats.Row `json:"rows"`
}

// HandleGetDaily handles GET /daily/{source} requests. Only configured
// sources are served.
func (h *DailyHandler) HandleGetDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	source := pathParam(r, "/daily/")
	if source == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if !slices.Contains(h.deps.Sources(), source) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("source %q: %w", source, ErrNotFound))
		return
	}
	rows, err := h.deps.DailyStats(r.Context(), source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if rows == nil {
		rows = []dailystats.Row{}
	}
	writeJSON(w, http.StatusOK, dailyResponse{Source: source, Rows: rows})
}
