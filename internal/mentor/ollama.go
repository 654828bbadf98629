package mentor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
)

// Ollama answers through a local Ollama instance. Brain context and the
// message are flattened into one prompt.
type Ollama struct {
	url    string
	model  string
	client *http.Client
}

func NewOllama(url, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaReply struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Respond sends a single non-streaming prompt to /api/generate.
func (o *Ollama) Respond(ctx context.Context, doc *brain.Document, message string) (*Response, error) {
	var reply ollamaReply
	err := postJSON(ctx, o.client, "ollama", o.url+"/api/generate", nil, ollamaRequest{
		Model:  o.model,
		Prompt: Prompt(doc, message),
		Options: ollamaOptions{
			Temperature: replyTemperature,
			NumPredict:  maxReplyTokens,
		},
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &Response{
		Content:    reply.Response,
		Provider:   "ollama",
		TokensUsed: reply.PromptEvalCount + reply.EvalCount,
	}, nil
}
