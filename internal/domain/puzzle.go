package domain

// Category identifies one of the fixed puzzle sets.
type Category string

const (
	CategoryHands Category = "hands"
	CategoryFboy  Category = "fboy"
	CategoryCute  Category = "cute"
)

// PuzzleImage is one candidate in a puzzle instance.
type PuzzleImage struct {
	ID        string `json:"id"`
	Src       string `json:"src"`
	Alt       string `json:"alt"`
	IsCorrect bool   `json:"isCorrect"`
}

// PuzzleInstance is an ephemeral, shuffled three-image puzzle.
type PuzzleInstance struct {
	ID           string        `json:"instanceId"`
	Category     Category      `json:"category"`
	Prompt       string        `json:"prompt"`
	Images       []PuzzleImage `json:"images"`
	CorrectIndex int           `json:"correctIndex"`
}

// PuzzleEventType discriminates puzzle panel events.
type PuzzleEventType string

const (
	PuzzleOpened PuzzleEventType = "opened"
	PuzzleFailed PuzzleEventType = "failed"
	PuzzlePassed PuzzleEventType = "passed"
)

// PuzzleEvent is emitted by the puzzle panel and consumed by the chat pipeline.
type PuzzleEvent struct {
	ID            string          `json:"id,omitempty"`
	Type          PuzzleEventType `json:"type"`
	Attempts      int             `json:"attempts,omitempty"`
	ExpectedStage Stage           `json:"expectedStage,omitempty"`
	// Ordinal is the 1-based puzzle number the event refers to.
	Ordinal int `json:"puzzleNumber,omitempty"`
}

// ExpectedStageFor returns the stage a session should reach once the puzzle
// with the given 1-based ordinal is solved.
func ExpectedStageFor(ordinal int) Stage {
	return StageFor(ordinal)
}
