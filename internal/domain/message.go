package domain

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a finalized transcript entry.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Sentiment is the coarse classification of a user message.
type Sentiment string

const (
	SentimentHelpful Sentiment = "helpful"
	SentimentNeutral Sentiment = "neutral"
	SentimentHostile Sentiment = "hostile"
)

// Emotion is the persona's narrative mood.
type Emotion string

const (
	EmotionProfessional Emotion = "professional"
	EmotionWorried      Emotion = "worried"
	EmotionDesperate    Emotion = "desperate"
	EmotionRelieved     Emotion = "relieved"
)

// ConversationState is the advisory narrative context mirrored to the server
// for prompt construction. It never drives puzzle progression.
type ConversationState struct {
	Emotion               Emotion   `json:"emotionalState"`
	ProblemRevealed       bool      `json:"hasRevealedProblem"`
	AskedForHelp          bool      `json:"hasAskedForHelp"`
	OfferedToShowImages   bool      `json:"hasOfferedToShowImages"`
	UserSentiment         Sentiment `json:"userSentiment"`
	StoryProgress         int       `json:"storyProgress"`
	AssistantMessageCount int       `json:"assistantMessageCount,omitempty"`
	UserMessageCount      int       `json:"userMessageCount,omitempty"`
	HelpLinkRevealed      bool      `json:"helpLinkRevealed,omitempty"`
	PuzzleStarted         bool      `json:"puzzleStarted,omitempty"`
}

// CountRoles returns the number of user and assistant messages.
func CountRoles(msgs []Message) (user, assistant int) {
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			user++
		case RoleAssistant:
			assistant++
		}
	}
	return user, assistant
}
