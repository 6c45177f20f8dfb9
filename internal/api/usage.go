package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/apple/ml-policy-projector/internal/tracker"
	"github.com/apple/ml-policy-projector/pkg/handlers"
	"github.com/apple/ml-policy-projector/pkg/routes"
)

const defaultUsageWindow = 24 * time.Hour

type usageHandler struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
}

func newUsageHandler(track *tracker.Tracker, logger *slog.Logger) *usageHandler {
	return &usageHandler{
		tracker: track,
		logger:  logger.With("handler", "usage"),
	}
}

func (h *usageHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/usage",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.stats},
		},
	}
}

// stats reports model usage aggregated over a trailing window, 24h unless a
// window query parameter narrows or widens it.
func (h *usageHandler) stats(w http.ResponseWriter, r *http.Request) {
	window := defaultUsageWindow
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
			return
		}
		window = parsed
	}

	stats, err := h.tracker.UsageStats(time.Now().Add(-window))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, stats)
}
