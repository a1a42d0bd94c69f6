package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":   "healthy",
		"checks":   checks,
		"sessions": h.chat.Sessions().Len(),
		"provider": h.chat.Provider().Name(),
	}
	statusCode := http.StatusOK

	if err := h.chat.Counters().Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["counters"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["counters"] = "ok"
	}

	JSON(w, statusCode, status)
}
