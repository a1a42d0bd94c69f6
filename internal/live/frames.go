// Package live hosts conversations over WebSocket: each connection runs a
// server-side conversation Controller and mirrors its output as JSON frames.
package live

import (
	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/domain"
)

// Outbound frame types.
const (
	FrameSession  = "session"
	FrameMessage  = "message"
	FramePartial  = "partial"
	FrameLink     = "link"
	FrameStage    = "stage"
	FrameBusy     = "busy"
	FramePuzzle   = "puzzle"
	FrameResult   = "result"
	FrameComplete = "complete"
	FrameError    = "error"
	FramePong     = "pong"
)

// Inbound frame types.
const (
	InMessage = "message"
	InHelp    = "help"
	InSelect  = "select"
	InPing    = "ping"
)

// Frame is one server-to-client message. Which fields are set depends on Type.
type Frame struct {
	Type      string             `json:"type"`
	Session   *chat.SessionInfo  `json:"session,omitempty"`
	Message   *domain.Message    `json:"message,omitempty"`
	Index     int                `json:"index,omitempty"`
	Text      string             `json:"text,omitempty"`
	MessageID string             `json:"messageId,omitempty"`
	Stage     domain.Stage       `json:"stage,omitempty"`
	Busy      *bool              `json:"busy,omitempty"`
	Puzzle    *chat.PuzzleView   `json:"puzzle,omitempty"`
	Result    *chat.SubmitResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// inbound is one client-to-server message.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Index   int    `json:"index,omitempty"`
}
