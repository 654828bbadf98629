// Package mentor turns a user's chat message into a reply drawn from that
// user's own brain document and nothing else.
package mentor

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/config"
)

// Generation settings shared by the model-backed responders.
const (
	maxReplyTokens   = 1024
	replyTemperature = 0.7
)

// Responder answers one message for the owner of doc.
type Responder interface {
	Respond(ctx context.Context, doc *brain.Document, message string) (*Response, error)
}

// Response holds a generated reply.
type Response struct {
	Content    string `json:"content"`
	Provider   string `json:"provider"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}

// New creates a Responder based on the configured provider.
func New(cfg config.MentorConfig) (Responder, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "", "rules":
		return Rules{}, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or mentor.api_key")
		}
		model := cfg.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		return NewOpenAI(cfg.APIKey, model, cfg.BaseURL, timeout), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or mentor.api_key")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		a := NewAnthropic(cfg.APIKey, model, timeout)
		if cfg.BaseURL != "" {
			a.url = cfg.BaseURL
		}
		return a, nil
	case "ollama":
		url := cfg.BaseURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown mentor provider: %q", cfg.Provider)
	}
}
