package handler

import (
	"context"
	"net/http"
	"time"
)

type SystemHandler struct {
	checks    map[string]Pinger
	startTime time.Time
	logger    Logger
}

// NewSystemHandler takes the dependencies readiness depends on, keyed by name.
func NewSystemHandler(checks map[string]Pinger, log Logger) *SystemHandler {
	return &SystemHandler{checks: checks, startTime: time.Now(), logger: log}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready pings every dependency with a short timeout.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.PingContext(ctx); err != nil {
			h.logger.Warn("Readiness check failed", map[string]interface{}{"dependency": name, "error": err.Error()})
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	respondJSON(w, status, map[string]interface{}{
		"ready":        status == http.StatusOK,
		"dependencies": results,
	})
}

// Pinger is satisfied by *sqlx.DB; redis is adapted with PingFunc.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }
