package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/clock"
	"github.com/ashureev/support-desk/internal/conversation"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/identity"
)

const writeTimeout = 5 * time.Second

// Options configures a Handler.
type Options struct {
	Backend       conversation.Backend
	Registry      *Registry
	Clock         clock.Clock
	AllowedOrigin string
	IsDev         bool
	QueueSize     int
}

// Handler serves GET /ws/conversation.
type Handler struct {
	backend       conversation.Backend
	registry      *Registry
	clock         clock.Clock
	allowedOrigin string
	isDev         bool
	queueSize     int
}

// NewHandler creates a new WebSocket conversation handler.
func NewHandler(opts Options) *Handler {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Handler{
		backend:       opts.Backend,
		registry:      opts.Registry,
		clock:         opts.Clock,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		queueSize:     opts.QueueSize,
	}
}

// Registry returns the connection registry.
func (h *Handler) Registry() *Registry { return h.registry }

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requested, err := identity.SessionIDFromRequest(r)
	if err != nil {
		slog.Warn("Rejected malformed session id", "ip", identity.IPFromRequest(r))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("Live connection request", "session_id", requested, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", requested)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", requested)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := newFrameSink(h.queueSize)
	ctl, err := conversation.New(conversation.Options{
		Backend:   h.backend,
		Sink:      sink,
		Clock:     h.clock,
		SessionID: requested,
	})
	if err == nil {
		err = ctl.Start(ctx)
	}
	if err != nil {
		slog.Error("Failed to start conversation", "error", err, "session_id", requested)
		if err := writeFrame(ctx, ws, Frame{Type: FrameError, Error: "session_unavailable"}); err != nil {
			slog.Debug("Failed to send session_unavailable error", "error", err)
		}
		return
	}
	sessionID := ctl.SessionID()
	sink.setSession(sessionID)

	h.registry.Register(sessionID, ws)
	defer h.registry.Unregister(sessionID, ws)

	sink.push(Frame{Type: FrameSession, Session: &chat.SessionInfo{
		SessionID: sessionID,
		AgentName: ctl.AgentName(),
		Stage:     snapshotStage(ctl),
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	// Output loop: controller -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, sink.queue, sessionID)
	}()

	// Input loop: WebSocket -> controller.
	h.inputLoop(ctx, ws, ctl, sink, sessionID)

	cancel()
	_ = ctl.Close()
	sink.close()
	wg.Wait()
	slog.Info("Live conversation ended", "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, ctl *conversation.Controller, sink *frameSink, sessionID string) {
	var panel *conversation.Panel
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			sink.push(Frame{Type: FrameError, Error: "invalid_frame"})
			continue
		}

		switch msg.Type {
		case InMessage:
			if err := ctl.Submit(msg.Content); err != nil {
				sink.push(Frame{Type: FrameError, Error: errorCode(err)})
			}
		case InHelp:
			reopened := panel != nil
			p, err := ctl.OpenPuzzles(ctx)
			if p != nil {
				panel = p
			}
			if err != nil {
				sink.push(Frame{Type: FrameError, Error: errorCode(err)})
				continue
			}
			if v, ok := panel.Current(); ok && reopened {
				sink.PuzzleShown(v)
			} else if panel.Complete() {
				sink.Complete()
			}
		case InSelect:
			if panel == nil {
				sink.push(Frame{Type: FrameError, Error: errorCode(conversation.ErrNoPuzzle)})
				continue
			}
			if _, err := panel.Select(ctx, msg.Index); err != nil {
				sink.push(Frame{Type: FrameError, Error: errorCode(err)})
			}
		case InPing:
			sink.push(Frame{Type: FramePong})
		default:
			sink.push(Frame{Type: FrameError, Error: "unknown_frame"})
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, queue <-chan Frame, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-queue:
			if !ok {
				return
			}
			if err := writeFrame(ctx, ws, f); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				}
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

func snapshotStage(ctl *conversation.Controller) domain.Stage {
	s, err := ctl.Snapshot()
	if err != nil {
		return domain.StagePre
	}
	return s.Stage
}

// errorCode is the client-facing name of err. Unknown errors are not exposed.
func errorCode(err error) string {
	switch {
	case errors.Is(err, conversation.ErrBusy):
		return "busy"
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, conversation.ErrLinkHidden):
		return "link_hidden"
	case errors.Is(err, conversation.ErrNoPuzzle):
		return "no_puzzle"
	case errors.Is(err, conversation.ErrComplete), errors.Is(err, chat.ErrNoMorePuzzles):
		return "complete"
	case errors.Is(err, conversation.ErrClosed):
		return "closed"
	case errors.Is(err, chat.ErrCategoryMismatch):
		return "stale_puzzle"
	default:
		return "internal_error"
	}
}
