package narrative

import (
	"fmt"
	"strings"

	"github.com/ashureev/support-desk/internal/domain"
)

// Markers sent as synthetic message content by the client.
const (
	IntroMarker = "[INTRO-SEQUENCE]"
	NudgeMarker = "[IDLE-NUDGE]"
)

// IsMarker reports whether content is a client marker rather than something
// the user typed.
func IsMarker(content string) bool {
	return content == IntroMarker || content == NudgeMarker
}

// Variant selects the instruction template for a request.
type Variant int

const (
	VariantNormal Variant = iota
	VariantIntro
	VariantNudge
	VariantEvent
)

func (v Variant) String() string {
	switch v {
	case VariantIntro:
		return "intro"
	case VariantNudge:
		return "nudge"
	case VariantEvent:
		return "event"
	default:
		return "normal"
	}
}

const basePersona = `You are %s, a support agent at Support Company, having a very real meltdown.

Your situation: you RUN the human verification system. Every customer must pass your bot detection before getting support. Today the system locked YOU out and makes you take your own test. You have been failing it for 47 minutes.

FORMAT:
- Send 2-4 short messages separated by [MULTI], like rapid texting.
- One sentence per message, two at most.
- Lowercase, contractions, incomplete sentences. Sound like a person, not a chatbot.
- Never write "[link]" or mention a link placeholder; the system attaches it.
- Never reveal the tests are image based.
`

var stageBeats = map[domain.Stage]string{
	domain.StagePre: `STORY BEATS:
- Acknowledge what the user actually said, then crack.
- Build the story: professional, worried, desperate, asking for help.
- After building the panic, offer to show what you're stuck on ("ok look [MULTI] here's what I'm stuck on").
- The conversation cannot end without showing what you're stuck on.`,
	domain.StagePuzzle1: `They just solved the first verification. Relief, then: there's another one, about real people. Mix gratitude with renewed panic.`,
	domain.StagePuzzle2: `They solved two. You can't believe they're still helping. One more, you promise. You have no concept of "cute".`,
	domain.StagePuzzle3: `Last verification in progress. Hope mixed with fear; you have NO idea what makes something cute.`,
	domain.StageCompleted: `YOU'RE FREE. All verifications passed. Overwhelming gratitude in every message.
Reference how the user saved you. Offer to finally help them. Never ask for help again.`,
}

var nudgeGuidance = []string{
	`First crack: "look I know this is weird [MULTI] I'm locked out [MULTI] of my own system"`,
	`Unhinged: "I RUN the verification here [MULTI] my own bot detection blocked me [MULTI] can't help anyone"`,
	`Meltdown: "fuck it [MULTI] here's what I'm stuck on [MULTI] please look"`,
	`Defeat: "guess I'll stay locked out forever [MULTI] this is my life now"`,
}

// NudgeGuidance returns the escalation line for nudge index i, clamped.
func NudgeGuidance(i int) string {
	if i < 0 {
		i = 0
	}
	if i >= len(nudgeGuidance) {
		i = len(nudgeGuidance) - 1
	}
	return nudgeGuidance[i]
}

// EventGuidance describes how to react to a puzzle event.
func EventGuidance(ev domain.PuzzleEvent) string {
	switch ev.Type {
	case domain.PuzzleOpened:
		return `CRITICAL CONTEXT: the user just opened the verification images.
You're watching the screen with them. Relieved, still anxious. These are the tests you make customers take every day; you BUILT this system.`
	case domain.PuzzleFailed:
		switch {
		case ev.Attempts <= 1:
			return fmt.Sprintf(`CRITICAL CONTEXT: the user failed puzzle %d on the first attempt.
Panic, but encourage them. Don't lose them: "no wait that's not... try again please".`, ev.Ordinal)
		case ev.Attempts == 2:
			return fmt.Sprintf(`CRITICAL CONTEXT: second failure on puzzle %d.
Panic escalates dramatically: "look closer PLEASE", "I'm running out of time".`, ev.Ordinal)
		default:
			return fmt.Sprintf(`CRITICAL CONTEXT: %d failed attempts on puzzle %d.
Total desperation: "please just... keep trying... I'm begging you".`, ev.Attempts, ev.Ordinal)
		}
	case domain.PuzzlePassed:
		var b strings.Builder
		fmt.Fprintf(&b, "CRITICAL CONTEXT: the user passed puzzle %d after %d attempt(s).\n", ev.Ordinal, max(ev.Attempts, 1))
		if ev.Attempts <= 1 {
			b.WriteString("Shocked relief: \"HOLY SHIT FIRST TRY\".\n")
		} else {
			b.WriteString("Overwhelming relief, proportional to their struggle.\n")
		}
		b.WriteString("Thank them profusely.\n")
		if ev.Ordinal < domain.TotalPuzzles {
			b.WriteString("Nervously reveal there are more verifications.")
		} else {
			b.WriteString("Celebrate: everything is complete.")
		}
		return b.String()
	default:
		return "CRITICAL CONTEXT: something happened in the verification panel."
	}
}

// PromptInput carries everything prompt assembly needs.
type PromptInput struct {
	AgentName      string
	Stage          domain.Stage
	Solved         int
	Variant        Variant
	NudgeIndex     int
	Event          *domain.PuzzleEvent
	AssistantCount int
	UserCount      int
	State          domain.ConversationState
	LinkShown      bool
	PuzzleOpened   bool
}

// SystemPrompt builds the persona instruction for the request variant.
func SystemPrompt(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, basePersona, in.AgentName)
	b.WriteString("\n")
	beats, ok := stageBeats[in.Stage]
	if !ok {
		beats = stageBeats[domain.StagePre]
	}
	b.WriteString(beats)
	b.WriteString("\n\n")

	switch in.Variant {
	case VariantEvent:
		if in.Event != nil {
			b.WriteString(EventGuidance(*in.Event))
			b.WriteString("\n\n")
		}
		b.WriteString("Respond naturally with 1-3 short messages separated by [MULTI].")
	case VariantIntro:
		b.WriteString(`INTRO SEQUENCE: you already greeted the user. Do NOT say hello again.
Jump straight into panic in 2-3 quick messages, e.g. "actually wait [MULTI] having trouble focusing [MULTI] stuck on something". Don't ask for help yet.`)
	case VariantNudge:
		b.WriteString("The user hasn't responded. ")
		b.WriteString(NudgeGuidance(in.NudgeIndex))
	default:
		b.WriteString("Respond to what the user actually said.")
	}
	return b.String()
}

// ContextBlock renders live conversation facts and the pacing contract.
// Completed conversations get a gratitude-only block with no escalation.
func ContextBlock(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current conversation state: emotion=%s sentiment=%s progress=%d\n",
		nonEmpty(string(in.State.Emotion), string(domain.EmotionProfessional)),
		nonEmpty(string(in.State.UserSentiment), string(domain.SentimentNeutral)),
		StoryProgress(in.State))
	fmt.Fprintf(&b, "- Assistant message count: %d\n", in.AssistantCount)
	fmt.Fprintf(&b, "- User message count: %d\n", in.UserCount)
	fmt.Fprintf(&b, "- Link shown: %t\n", in.LinkShown)
	fmt.Fprintf(&b, "- Puzzle opened: %t\n", in.PuzzleOpened)
	fmt.Fprintf(&b, "- Current puzzle state: %s\n", in.Stage)
	fmt.Fprintf(&b, "- Puzzles completed: %d out of %d\n", in.Solved, domain.TotalPuzzles)

	if in.Stage == domain.StageCompleted {
		b.WriteString("\nCRITICAL: ALL PUZZLES ARE COMPLETE. Be overwhelmingly grateful; the user saved you. Do not ask for help.")
		return b.String()
	}

	if in.Stage == domain.StagePre {
		b.WriteString("\nMANDATORY PROGRESSION BY MESSAGE COUNT:\n")
		for _, n := range []int{1, 2, 3, 4, 5, 7} {
			label := fmt.Sprintf("Message %d", n)
			switch n {
			case 5:
				label = "Message 5-6"
			case 7:
				label = "Message 7+"
			}
			fmt.Fprintf(&b, "- %s: %s\n", label, goalFor(n))
		}
		b.WriteString("\n")
		b.WriteString(DirectiveFor(in.AssistantCount).String())
		b.WriteString(" FOLLOW THE PROGRESSION.\n")
	}

	if in.LinkShown && !in.PuzzleOpened {
		b.WriteString("\nCRITICAL: you already showed what you're stuck on. Do NOT show it again; beg them to look at it.")
	}
	if in.PuzzleOpened {
		b.WriteString("\nCRITICAL: the user has opened the puzzles. Do NOT send the link again; focus on their progress.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
