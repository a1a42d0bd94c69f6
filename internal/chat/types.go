// Package chat is the server application service behind the chat, puzzle
// and link endpoints.
package chat

import (
	"errors"

	"github.com/ashureev/support-desk/internal/domain"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoMorePuzzles     = errors.New("all puzzles completed")
	ErrPuzzleUnavailable = errors.New("puzzle unavailable")
	ErrCategoryMismatch  = errors.New("category does not match the issued puzzle")
)

// Request asks for the next persona response.
type Request struct {
	Messages          []domain.Message          `json:"messages"`
	SessionID         string                    `json:"sessionId,omitempty"`
	ConversationState *domain.ConversationState `json:"conversationState,omitempty"`
	PuzzleEvent       *domain.PuzzleEvent       `json:"puzzleEvent,omitempty"`
	NudgeIndex        *int                      `json:"nudgeIndex,omitempty"`

	// Transport metadata, never decoded from the body.
	Channel   string `json:"-"`
	VisitorID string `json:"-"`
	RequestID string `json:"-"`
}

// SessionInfo is the bootstrap payload.
type SessionInfo struct {
	SessionID         string       `json:"sessionId"`
	AgentName         string       `json:"agentName"`
	Stage             domain.Stage `json:"stage"`
	SolvedPuzzles     int          `json:"solvedPuzzles"`
	HelpLinkRevealed  bool         `json:"helpLinkRevealed"`
	PuzzlePanelOpened bool         `json:"puzzlePanelOpened"`
}

func infoFor(s domain.Session) SessionInfo {
	return SessionInfo{
		SessionID:         s.ID,
		AgentName:         s.AgentName,
		Stage:             s.Stage,
		SolvedPuzzles:     s.Solved(),
		HelpLinkRevealed:  s.HelpLinkRevealed,
		PuzzlePanelOpened: s.PuzzlePanelOpened,
	}
}

// ImageView is a puzzle image as served to clients, without the answer.
type ImageView struct {
	ID  string `json:"id"`
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// PuzzleView is the client-facing form of an issued puzzle instance.
type PuzzleView struct {
	InstanceID   string          `json:"instanceId"`
	Category     domain.Category `json:"category"`
	Prompt       string          `json:"prompt"`
	Images       []ImageView     `json:"images"`
	Ordinal      int             `json:"puzzleNumber"`
	TotalPuzzles int             `json:"totalPuzzles"`
}

func viewOf(inst *domain.PuzzleInstance, ordinal int) PuzzleView {
	v := PuzzleView{
		InstanceID:   inst.ID,
		Category:     inst.Category,
		Prompt:       inst.Prompt,
		Images:       make([]ImageView, len(inst.Images)),
		Ordinal:      ordinal,
		TotalPuzzles: domain.TotalPuzzles,
	}
	for i, img := range inst.Images {
		v.Images[i] = ImageView{ID: img.ID, Src: img.Src, Alt: img.Alt}
	}
	return v
}

// Submission is a puzzle answer. SelectedIndex is preferred; Correct is
// accepted from clients that score locally.
type Submission struct {
	SessionID     string          `json:"sessionId"`
	Category      domain.Category `json:"category"`
	Correct       *bool           `json:"correct,omitempty"`
	SelectedIndex *int            `json:"selectedIndex,omitempty"`
}

// SubmitResult reports the session after a submission.
type SubmitResult struct {
	Correct       bool         `json:"correct"`
	Stage         domain.Stage `json:"stage"`
	SolvedPuzzles int          `json:"solvedPuzzles"`
	Complete      bool         `json:"isComplete"`
}
