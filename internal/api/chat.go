package api

import (
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/identity"
	"github.com/ashureev/support-desk/internal/stream"
)

// Response headers carrying session metadata.
const (
	HeaderSessionID    = "X-Session-Id"
	HeaderAgentName    = "X-Agent-Name"
	HeaderSessionStage = "X-Session-Stage"
)

type markLinkRequest struct {
	SessionID string `json:"sessionId"`
}

// HandleChat handles POST /api/chat. An empty message list bootstraps the
// session and returns its metadata; otherwise the persona's reply is streamed
// as server-sent events.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if h.limiter != nil && !h.limiter.Allow(visitorID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req chat.Request
	if !h.decode(w, r, &req) {
		return
	}
	var ok bool
	if req.SessionID, ok = sessionID(w, req.SessionID); !ok {
		return
	}
	if req.SessionID == "" {
		if req.SessionID, ok = requestSessionID(w, r); !ok {
			return
		}
	}

	if len(req.Messages) == 0 {
		info, err := h.chat.Bootstrap(r.Context(), req.SessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		setSessionHeaders(w, info.SessionID, info.AgentName, string(info.Stage))
		JSON(w, http.StatusOK, info)
		return
	}

	req.Channel = "http"
	req.VisitorID = visitorID
	req.RequestID = chiMiddleware.GetReqID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	started := false
	for ev, err := range h.chat.Respond(r.Context(), req) {
		if err != nil {
			// Only validation failures arrive here, before any event.
			writeServiceError(w, err)
			return
		}
		if !started {
			if ev.Meta != nil {
				setSessionHeaders(w, ev.Meta.SessionID, ev.Meta.AgentName, string(ev.Meta.Stage))
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := stream.WriteSSE(w, ev); err != nil {
			slog.Warn("failed to write SSE event", "session_id", req.SessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

// HandleMarkLinkShown handles POST /api/chat/mark-link-shown.
func (h *Handler) HandleMarkLinkShown(w http.ResponseWriter, r *http.Request) {
	var req markLinkRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, ok := sessionID(w, req.SessionID)
	if !ok {
		return
	}
	if err := h.chat.MarkLinkShown(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func setSessionHeaders(w http.ResponseWriter, sessionID, agentName, stage string) {
	w.Header().Set(HeaderSessionID, sessionID)
	w.Header().Set(HeaderAgentName, agentName)
	w.Header().Set(HeaderSessionStage, stage)
}
