package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"bootlicense/internal/license"
)

// StatsSource reports push channel counters
type StatsSource interface {
	Stats() map[string]any
}

// HealthHandler handles GET /healthz
type HealthHandler struct {
	engine    interface{ State() license.State }
	websocket StatsSource
	version   string
	started   time.Time
}

// NewHealthHandler creates a new health handler. websocket may be nil.
func NewHealthHandler(engine interface{ State() license.State }, websocket StatsSource, version string) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		websocket: websocket,
		version:   version,
		started:   time.Now(),
	}
}

// HealthCheck reports liveness. The license state is informational: an
// unlicensed process is still healthy.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":        "ok",
		"version":       h.version,
		"uptime":        time.Since(h.started).Round(time.Second).String(),
		"license_state": h.engine.State(),
	}
	if h.websocket != nil {
		resp["websocket"] = h.websocket.Stats()
	}
	render.JSON(w, r, resp)
}
