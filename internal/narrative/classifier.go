// Package narrative decides what the persona must do next and when the help
// link becomes visible.
package narrative

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/support-desk/internal/domain"
)

// Classifier inspects free text. Implementations are heuristics; the state
// machine only depends on this interface.
type Classifier interface {
	Sentiment(text string) domain.Sentiment
	RequestsHelp(text string) bool
	Dismissive(text string) bool
}

var (
	helpPhrases = []string{
		"can you help",
		"could you help",
		"will you help",
		"help me",
		"please help",
		"i need your help",
		"i need help",
	}
	offerPhrases = []string{
		"show you",
		"let me show",
		"here's what",
		"here is what",
		"look at this",
		"look at these",
	}
	helpfulWords    = []string{"help", "yes", "show", "alright", "fine"}
	hostileWords    = []string{"fuck", "shit", "stupid", "die", "hate", "annoying"}
	dismissivePhr   = []string{"don't need", "dont need", "not interested", "leave me alone", "go away"}
	dismissiveWords = map[string]bool{"no": true, "nope": true, "nah": true, "ok": true, "okay": true, "k": true}
)

const shortReplyRunes = 5

// Keywords is the default phrase-matching Classifier.
type Keywords struct{}

var _ Classifier = Keywords{}

// Sentiment classifies a user message. Helpful cues win over hostile ones.
func (Keywords) Sentiment(text string) domain.Sentiment {
	lower := strings.ToLower(text)
	if containsAny(lower, helpfulWords) {
		return domain.SentimentHelpful
	}
	if containsAny(lower, hostileWords) {
		return domain.SentimentHostile
	}
	return domain.SentimentNeutral
}

// RequestsHelp reports whether text contains help-request phrasing.
func (Keywords) RequestsHelp(text string) bool {
	return containsAny(strings.ToLower(text), helpPhrases)
}

// Dismissive reports short replies and negative phrasing.
func (Keywords) Dismissive(text string) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < shortReplyRunes {
		return true
	}
	lower := strings.ToLower(trimmed)
	if containsAny(lower, dismissivePhr) {
		return true
	}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if dismissiveWords[w] {
			return true
		}
	}
	return false
}

// OffersToShow reports whether an assistant message offers to show the problem.
func OffersToShow(text string) bool {
	return containsAny(strings.ToLower(text), offerPhrases)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
