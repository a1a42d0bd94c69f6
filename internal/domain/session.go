// Package domain contains core domain types shared across the support desk.
package domain

import (
	"slices"
	"time"
)

// TotalPuzzles is the number of verification puzzles in a conversation.
const TotalPuzzles = 3

// Stage is the server-tracked puzzle progress of a session.
type Stage string

const (
	StagePre     Stage = "pre"
	StagePuzzle1 Stage = "puzzle1"
	StagePuzzle2 Stage = "puzzle2"
	// StagePuzzle3 is a prompt label only; sessions move from puzzle2 straight to completed.
	StagePuzzle3   Stage = "puzzle3"
	StageCompleted Stage = "completed"
)

// StageFor maps the number of solved puzzles to a stage.
func StageFor(solved int) Stage {
	switch {
	case solved <= 0:
		return StagePre
	case solved == 1:
		return StagePuzzle1
	case solved == 2:
		return StagePuzzle2
	default:
		return StageCompleted
	}
}

// Rank orders stages for monotonicity checks. Unknown stages rank below pre.
func (s Stage) Rank() int {
	switch s {
	case StagePre:
		return 0
	case StagePuzzle1:
		return 1
	case StagePuzzle2:
		return 2
	case StagePuzzle3:
		return 3
	case StageCompleted:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool { return s.Rank() >= 0 }

// ActivePuzzle remembers the instance most recently issued to a session.
type ActivePuzzle struct {
	Category     Category
	InstanceID   string
	CorrectIndex int
	IssuedAt     time.Time
}

// Session is the per-conversation state held by the session store.
type Session struct {
	ID                string        `json:"sessionId"`
	AgentName         string        `json:"agentName"`
	Stage             Stage         `json:"stage"`
	SolvedPuzzles     []Category    `json:"solvedPuzzles"`
	ActivePuzzle      *ActivePuzzle `json:"-"`
	HelpLinkRevealed  bool          `json:"helpLinkRevealed"`
	PuzzlePanelOpened bool          `json:"puzzlePanelOpened"`
	CreatedAt         time.Time     `json:"createdAt"`
	LastActivityAt    time.Time     `json:"lastActivityAt"`
	Abandoned         bool          `json:"abandoned"`
}

// Solved returns the number of solved puzzles.
func (s Session) Solved() int { return len(s.SolvedPuzzles) }

// Completed reports whether every puzzle has been solved.
func (s Session) Completed() bool { return s.Stage == StageCompleted }

// Clone returns a copy that shares no mutable memory with s.
func (s Session) Clone() Session {
	out := s
	out.SolvedPuzzles = slices.Clone(s.SolvedPuzzles)
	if out.SolvedPuzzles == nil {
		out.SolvedPuzzles = []Category{}
	}
	if s.ActivePuzzle != nil {
		ap := *s.ActivePuzzle
		out.ActivePuzzle = &ap
	}
	return out
}
