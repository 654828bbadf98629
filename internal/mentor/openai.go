package mentor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lazypower/sanctum/internal/brain"
)

// DefaultOpenAIModel is used when mentor.model is empty.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI calls the chat completions API through go-openai.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a responder. baseURL may point at any
// OpenAI-compatible endpoint; empty means the public API.
func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (o *OpenAI) Respond(ctx context.Context, doc *brain.Document, message string) (*Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: System(doc),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: message,
			},
		},
		MaxTokens:   maxReplyTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api: no completion choices returned")
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Provider:   "openai",
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
