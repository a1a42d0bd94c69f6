package narrative

import (
	"github.com/ashureev/support-desk/internal/domain"
)

// MaxNudgeIndex is the last idle-nudge index; reaching it forces the link.
const MaxNudgeIndex = 3

// Message-count thresholds that escalate the persona.
const (
	revealProblemAt  = 2
	worriedAt        = 3
	askForHelpAt     = 4
	linkAssistantMin = 5
	linkUserMin      = 1
)

// Inputs is the snapshot the link-reveal rule is evaluated against.
type Inputs struct {
	Stage          domain.Stage
	AssistantCount int
	UserCount      int
	AskedForHelp   bool
	NudgeIndex     int
	LinkRevealed   bool
	PuzzleStarted  bool
}

// ShouldRevealLink applies the link-reveal rule.
func ShouldRevealLink(in Inputs) bool {
	if in.LinkRevealed || in.PuzzleStarted || in.Stage == domain.StageCompleted {
		return false
	}
	if in.NudgeIndex >= MaxNudgeIndex {
		return true
	}
	return in.AskedForHelp && in.AssistantCount >= linkAssistantMin && in.UserCount >= linkUserMin
}

// Tracker holds the advisory conversation state and the link bookkeeping for
// one conversation. It is not safe for concurrent use; the owner serialises access.
type Tracker struct {
	classifier    Classifier
	state         domain.ConversationState
	stage         domain.Stage
	nudgeIndex    int
	linkRevealed  bool
	linkMessageID string
	puzzleStarted bool
}

// NewTracker returns a tracker in the opening state.
func NewTracker(c Classifier) *Tracker {
	if c == nil {
		c = Keywords{}
	}
	return &Tracker{
		classifier: c,
		stage:      domain.StagePre,
		nudgeIndex: -1,
		state: domain.ConversationState{
			Emotion:       domain.EmotionProfessional,
			UserSentiment: domain.SentimentNeutral,
		},
	}
}

// Classifier returns the classifier in use.
func (t *Tracker) Classifier() Classifier { return t.classifier }

// State returns the conversation state with a freshly derived progress score.
func (t *Tracker) State() domain.ConversationState {
	s := t.state
	s.StoryProgress = StoryProgress(s)
	s.HelpLinkRevealed = t.linkRevealed
	s.PuzzleStarted = t.puzzleStarted
	return s
}

// Stage returns the last known stage.
func (t *Tracker) Stage() domain.Stage { return t.stage }

// SetStage advances the stage. Regressions are ignored.
func (t *Tracker) SetStage(s domain.Stage) {
	if s.Rank() > t.stage.Rank() {
		t.stage = s
	}
	if t.stage == domain.StageCompleted {
		t.state.Emotion = domain.EmotionRelieved
	}
}

// NudgeIndex returns the highest nudge index fired so far, or -1.
func (t *Tracker) NudgeIndex() int { return t.nudgeIndex }

// SetNudgeIndex records that nudge i fired.
func (t *Tracker) SetNudgeIndex(i int) {
	if i > t.nudgeIndex {
		t.nudgeIndex = i
	}
}

// ForceAskedForHelp marks the persona as having asked for help.
func (t *Tracker) ForceAskedForHelp() {
	t.state.AskedForHelp = true
}

// StartPuzzle marks the puzzle panel as started; the link never reopens after this.
func (t *Tracker) StartPuzzle() { t.puzzleStarted = true }

// PuzzleStarted reports whether the puzzle panel was started.
func (t *Tracker) PuzzleStarted() bool { return t.puzzleStarted }

// LinkMessageID returns the id of the message carrying the help link.
func (t *Tracker) LinkMessageID() (string, bool) {
	return t.linkMessageID, t.linkRevealed
}

// ObserveUser updates sentiment from a user message.
func (t *Tracker) ObserveUser(text string) domain.Sentiment {
	t.state.UserSentiment = t.classifier.Sentiment(text)
	return t.state.UserSentiment
}

// ObserveAssistant updates the narrative from a finalized persona message and
// evaluates the reveal rule. assistantCount includes this message. It returns
// true when this message became the link carrier.
func (t *Tracker) ObserveAssistant(id, text string, assistantCount, userCount int) bool {
	t.state.AssistantMessageCount = assistantCount
	t.state.UserMessageCount = userCount

	if t.stage == domain.StageCompleted {
		t.state.Emotion = domain.EmotionRelieved
		return false
	}

	if assistantCount >= revealProblemAt {
		t.state.ProblemRevealed = true
	}
	if assistantCount >= worriedAt && t.state.Emotion == domain.EmotionProfessional {
		t.state.Emotion = domain.EmotionWorried
	}
	if assistantCount >= askForHelpAt {
		t.state.AskedForHelp = true
		t.state.Emotion = domain.EmotionDesperate
	}
	if t.classifier.RequestsHelp(text) {
		t.state.AskedForHelp = true
	}
	if OffersToShow(text) {
		t.state.OfferedToShowImages = true
	}

	if !ShouldRevealLink(t.Inputs(assistantCount, userCount)) {
		return false
	}
	return t.reveal(id)
}

// ForceReveal attaches the link to id unless it was already revealed, the
// puzzles started, or the conversation is complete.
func (t *Tracker) ForceReveal(id string) bool {
	if t.linkRevealed || t.puzzleStarted || t.stage == domain.StageCompleted {
		return false
	}
	return t.reveal(id)
}

func (t *Tracker) reveal(id string) bool {
	if t.linkRevealed || id == "" {
		return false
	}
	t.linkRevealed = true
	t.linkMessageID = id
	t.state.OfferedToShowImages = true
	return true
}

// Inputs builds the reveal-rule snapshot for the given counts.
func (t *Tracker) Inputs(assistantCount, userCount int) Inputs {
	return Inputs{
		Stage:          t.stage,
		AssistantCount: assistantCount,
		UserCount:      userCount,
		AskedForHelp:   t.state.AskedForHelp,
		NudgeIndex:     t.nudgeIndex,
		LinkRevealed:   t.linkRevealed,
		PuzzleStarted:  t.puzzleStarted,
	}
}

// StoryProgress scores the narrative 0-100 in four equal beats.
func StoryProgress(s domain.ConversationState) int {
	p := 0
	if s.ProblemRevealed {
		p += 25
	}
	if s.AskedForHelp {
		p += 25
	}
	if s.OfferedToShowImages {
		p += 25
	}
	if s.Emotion == domain.EmotionDesperate {
		p += 25
	}
	return p
}
