package mentor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
)

const (
	anthropicAPI     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// Anthropic answers through the Anthropic Messages API. The user's brain
// goes into the system prompt and the message is the only turn.
type Anthropic struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

func NewAnthropic(apiKey, model string, timeout time.Duration) *Anthropic {
	return &Anthropic{
		apiKey: apiKey,
		model:  model,
		url:    anthropicAPI,
		client: &http.Client{Timeout: timeout},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicReply struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) Respond(ctx context.Context, doc *brain.Document, message string) (*Response, error) {
	header := http.Header{}
	header.Set("x-api-key", a.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var reply anthropicReply
	err := postJSON(ctx, a.client, "anthropic", a.url, header, anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxReplyTokens,
		Temperature: replyTemperature,
		System:      System(doc),
		Messages:    []anthropicMessage{{Role: "user", Content: message}},
	}, &reply)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range reply.Content {
		if c.Type == "" || c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return &Response{
		Content:    text.String(),
		Provider:   "anthropic",
		TokensUsed: reply.Usage.InputTokens + reply.Usage.OutputTokens,
	}, nil
}
