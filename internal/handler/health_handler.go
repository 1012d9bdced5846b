package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"chrona-backend/internal/model"
)

// Pinger reports whether a backing service answers.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	database Pinger
	redis    Pinger
}

// NewHealthHandler takes nil for a dependency that is not configured.
func NewHealthHandler(database Pinger, redis Pinger) *HealthHandler {
	return &HealthHandler{database: database, redis: redis}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := model.HealthStatus{Status: "ok", Database: "memory"}
	code := http.StatusOK

	if h.database != nil {
		status.Database = "up"
		if err := h.database(ctx); err != nil {
			slog.Error("health check: database unreachable", "error", err)
			status.Database = "down"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	// Rate limiting fails open, so Redis being down degrades but does not fail.
	if h.redis != nil {
		status.Redis = "up"
		if err := h.redis(ctx); err != nil {
			slog.Warn("health check: redis unreachable", "error", err)
			status.Redis = "down"
			status.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
