// Package api provides HTTP handlers for the support desk API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/counters"
	"github.com/ashureev/support-desk/internal/identity"
)

const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat, puzzle, link and counter endpoints.
type Handler struct {
	chat        *chat.Service
	limiter     *RateLimiter
	maxBodySize int64
}

// NewHandler creates a new Handler. A nil limiter disables rate limiting.
func NewHandler(svc *chat.Service, limiter *RateLimiter, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		chat:        svc,
		limiter:     limiter,
		maxBodySize: maxBodySize,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/chat/mark-link-shown", h.HandleMarkLinkShown)
		r.Get("/puzzle", h.HandleNextPuzzle)
		r.Post("/puzzle", h.HandleSubmitPuzzle)
		r.Get("/counters", h.HandleGetCounters)
		r.Post("/counters", h.HandleIncrementCounter)
		r.Get("/health", h.Health)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a size-capped JSON body into v and writes the error response
// itself when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// sessionID validates a caller-supplied session id and writes a 400 when it
// is malformed. An empty id is passed through.
func sessionID(w http.ResponseWriter, raw string) (string, bool) {
	id, err := identity.ParseSessionID(raw)
	if err != nil {
		slog.Warn("Rejected malformed session id", "length", len(raw))
		Error(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// requestSessionID is sessionID for the X-Session-Id header or sessionId
// query parameter.
func requestSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := identity.SessionIDFromRequest(r)
	if err != nil {
		slog.Warn("Rejected malformed session id", "path", r.URL.Path)
		Error(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// writeServiceError maps chat sentinels to statuses. Unknown errors become a
// generic 500 so no internal detail reaches the client.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNoMorePuzzles):
		Error(w, http.StatusBadRequest, chat.ErrNoMorePuzzles.Error())
	case errors.Is(err, chat.ErrSessionNotFound):
		Error(w, http.StatusNotFound, chat.ErrSessionNotFound.Error())
	case errors.Is(err, chat.ErrCategoryMismatch):
		Error(w, http.StatusConflict, chat.ErrCategoryMismatch.Error())
	case errors.Is(err, counters.ErrUnknownCounter):
		Error(w, http.StatusBadRequest, "invalid counter type")
	case errors.Is(err, chat.ErrPuzzleUnavailable):
		Error(w, http.StatusInternalServerError, "failed to load puzzle data")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
