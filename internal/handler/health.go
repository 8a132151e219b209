package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"forkchat/internal/httputil"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency the health check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gauge reports a current count, e.g. generations in flight
type Gauge func() int

// HealthHandler reports process and dependency health
type HealthHandler struct {
	deps   map[string]Pinger
	gauges map[string]Gauge
	logger *slog.Logger
}

func NewHealthHandler(deps map[string]Pinger, gauges map[string]Gauge, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, gauges: gauges, logger: logger}
}

// Health answers 200 when every dependency responds, 503 otherwise
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	stats := make(map[string]int, len(h.gauges))
	for name, gauge := range h.gauges {
		stats[name] = gauge()
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	httputil.RespondJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
		"stats":  stats,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
