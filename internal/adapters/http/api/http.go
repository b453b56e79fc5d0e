// Package api exposes the read side of worldwatch over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/worldwatch/internal/adapters/dailystats"
	"github.com/okian/worldwatch/internal/adapters/history"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	StatsProvider

	// History returns one world's time series, oldest first.
	History(ctx context.Context, id string) []history.Record

	// DailyStats returns every stored daily row of a source.
	DailyStats(ctx context.Context, source string) ([]dailystats.Row, error)

	// Sources lists the configured source names.
	Sources() []string
}

// Server wires HTTP routes for the read API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	historyHandler *HistoryHandler
	dailyHandler   *DailyHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		historyHandler: NewHistoryHandler(deps),
		dailyHandler:   NewDailyHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/history/", MetricsMiddleware(s.historyHandler.HandleGetHistory, "history"))
	mux.HandleFunc("/daily/", MetricsMiddleware(s.dailyHandler.HandleGetDaily, "daily"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// pathParam returns the single path segment after prefix, or "" when there
// is none or more than one.
func pathParam(r *http.Request, prefix string) string {
	p := strings.TrimPrefix(r.URL.Path, prefix)
	if p == r.URL.Path || strings.Contains(p, "/") {
		return ""
	}
	return p
}
