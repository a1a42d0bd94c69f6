package llm

import (
	"context"
	"iter"
	"strings"
)

// DefaultScript is the offline persona: enough in-character lines to walk a
// conversation from greeting to the final thank-you without a model.
var DefaultScript = map[string][]string{
	"intro": {
		"actually wait [MULTI] sorry, having trouble focusing [MULTI] stuck on something",
	},
	"nudge": {
		"look I know this is weird [MULTI] I'm locked out [MULTI] of my own system",
		"I RUN the verification here [MULTI] my own bot detection blocked me",
		"ok forget it [MULTI] here's what I'm stuck on [MULTI] please just look",
		"guess I'll stay locked out forever [MULTI] this is my life now",
	},
	"opened": {
		"oh thank god [MULTI] you're looking at it",
	},
	"failed": {
		"no wait that's not... [MULTI] try again please",
		"look closer PLEASE [MULTI] I'm running out of time",
		"please just... keep trying [MULTI] I'm begging you",
	},
	"passed": {
		"HOLY SHIT [MULTI] it worked [MULTI] ok there's another one though",
		"you're amazing [MULTI] one more, I promise",
		"I'M IN [MULTI] thank you thank you thank you",
	},
	"normal": {
		"right, sure [MULTI] sorry, I'm a bit distracted",
		"ok honestly [MULTI] I'm locked out of my own verification system",
		"it keeps saying I'm a bot [MULTI] and it needs a human to judge it",
		"can you help me? [MULTI] please",
		"I'm begging you [MULTI] I've been stuck for 47 minutes",
		"let me just show you [MULTI] here's what I'm stuck on",
	},
	"completed": {
		"you saved me [MULTI] I'm actually free [MULTI] what did you need help with?",
	},
}

// Scripted replays canned replies chosen by request label and step. The last
// line of a list repeats once the step runs past it.
type Scripted struct {
	script map[string][]string
	// TokenSize splits replies into fragments of this many bytes; 0 sends words.
	TokenSize int
}

var _ Provider = (*Scripted)(nil)

// NewScripted returns a provider for script. A nil script uses DefaultScript.
func NewScripted(script map[string][]string) *Scripted {
	if script == nil {
		script = DefaultScript
	}
	return &Scripted{script: script}
}

// Name implements Provider.
func (s *Scripted) Name() string { return "scripted" }

// Stream implements Provider.
func (s *Scripted) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	reply := s.pick(req.Label, req.Step)
	return func(yield func(string, error) bool) {
		for _, tok := range s.tokenize(reply) {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
	}
}

func (s *Scripted) pick(label string, step int) string {
	lines := s.script[label]
	if len(lines) == 0 {
		lines = s.script["normal"]
	}
	if len(lines) == 0 {
		return ""
	}
	return lines[min(max(step, 0), len(lines)-1)]
}

func (s *Scripted) tokenize(text string) []string {
	if s.TokenSize > 0 {
		var out []string
		for len(text) > s.TokenSize {
			out = append(out, text[:s.TokenSize])
			text = text[s.TokenSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}
	var out []string
	for word := range strings.SplitAfterSeq(text, " ") {
		if word != "" {
			out = append(out, word)
		}
	}
	return out
}
