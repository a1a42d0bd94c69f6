package chat

import (
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/llm"
	"github.com/ashureev/support-desk/internal/narrative"
)

type plan struct {
	variant narrative.Variant
	stage   domain.Stage
	request llm.Request
}

// plan picks the prompt variant and assembles the model request.
func (s *Service) plan(sess domain.Session, req Request) plan {
	last := req.Messages[len(req.Messages)-1]
	variant := narrative.VariantNormal
	nudge := 0
	switch {
	case req.PuzzleEvent != nil:
		variant = narrative.VariantEvent
	case last.Content == narrative.IntroMarker:
		variant = narrative.VariantIntro
	case last.Content == narrative.NudgeMarker || req.NudgeIndex != nil:
		variant = narrative.VariantNudge
		if req.NudgeIndex != nil {
			nudge = *req.NudgeIndex
		}
	}

	stage := promptStage(sess, req.PuzzleEvent)
	users, assistants := countTurns(req.Messages)

	state := domain.ConversationState{Emotion: domain.EmotionProfessional}
	if req.ConversationState != nil {
		state = *req.ConversationState
	}
	if state.UserSentiment == "" && last.Role == domain.RoleUser && variant == narrative.VariantNormal {
		state.UserSentiment = s.classifier.Sentiment(last.Content)
	}

	in := narrative.PromptInput{
		AgentName:      sess.AgentName,
		Stage:          stage,
		Solved:         max(sess.Solved(), solvedAt(stage)),
		Variant:        variant,
		NudgeIndex:     nudge,
		Event:          req.PuzzleEvent,
		AssistantCount: assistants,
		UserCount:      users,
		State:          state,
		LinkShown:      sess.HelpLinkRevealed,
		PuzzleOpened:   sess.PuzzlePanelOpened,
	}

	label, step := labelFor(variant, stage, req.PuzzleEvent, nudge, assistants)
	return plan{
		variant: variant,
		stage:   stage,
		request: llm.Request{
			System:   narrative.SystemPrompt(in) + "\n\n" + narrative.ContextBlock(in),
			Messages: window(req.Messages, s.window),
			Label:    label,
			Step:     step,
		},
	}
}

// countTurns counts messages by role. Marker messages are not user turns.
func countTurns(msgs []domain.Message) (users, assistants int) {
	for _, m := range msgs {
		switch {
		case m.Role == domain.RoleAssistant:
			assistants++
		case m.Role == domain.RoleUser && !narrative.IsMarker(m.Content):
			users++
		}
	}
	return users, assistants
}

// promptStage is the stage the persona should speak from. A passed event may
// carry the stage the client expects, which covers a submission still racing
// the chat request; it never moves the prompt backwards and never touches the
// stored session.
func promptStage(sess domain.Session, ev *domain.PuzzleEvent) domain.Stage {
	stage := sess.Stage
	if ev != nil && ev.Type == domain.PuzzlePassed {
		want := ev.ExpectedStage
		if !want.Valid() && ev.Ordinal >= domain.TotalPuzzles {
			want = domain.StageCompleted
		}
		if want.Rank() > stage.Rank() {
			stage = want
		}
	}
	if stage == domain.StagePuzzle2 && sess.ActivePuzzle != nil && sess.ActivePuzzle.Category == domain.CategoryCute {
		stage = domain.StagePuzzle3
	}
	return stage
}

func solvedAt(stage domain.Stage) int {
	switch stage {
	case domain.StagePuzzle1:
		return 1
	case domain.StagePuzzle2, domain.StagePuzzle3:
		return 2
	case domain.StageCompleted:
		return domain.TotalPuzzles
	default:
		return 0
	}
}

func labelFor(v narrative.Variant, stage domain.Stage, ev *domain.PuzzleEvent, nudge, assistants int) (string, int) {
	switch v {
	case narrative.VariantEvent:
		switch ev.Type {
		case domain.PuzzleFailed:
			return string(ev.Type), ev.Attempts - 1
		case domain.PuzzlePassed:
			return string(ev.Type), ev.Ordinal - 1
		default:
			return string(ev.Type), 0
		}
	case narrative.VariantIntro:
		return "intro", 0
	case narrative.VariantNudge:
		return "nudge", nudge
	}
	if stage == domain.StageCompleted {
		return "completed", 0
	}
	return "normal", assistants - 1
}

func window(msgs []domain.Message, n int) []domain.Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
