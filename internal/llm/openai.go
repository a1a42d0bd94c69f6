package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/support-desk/internal/domain"
)

// Defaults for the OpenAI-compatible backend.
const (
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	DefaultOpenAIModel   = "openai/gpt-4o-mini"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a streaming client. Empty baseURL and model select
// OpenRouter and its default model.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai provider: api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	return &OpenAIProvider{client: openai.NewClientWithConfig(config), model: model}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
		if req.System != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
		}
		for _, m := range req.Messages {
			role := openai.ChatMessageRoleUser
			if m.Role == domain.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
			msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    p.model,
			Messages: msgs,
		})
		if err != nil {
			yield("", fmt.Errorf("create completion stream: %w", err))
			return
		}
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("receive completion: %w", err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(resp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
