package mentor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func testDoc() *brain.Document {
	d := brain.NewDocument("alice", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	d.BehaviorPatterns.AverageSleep = ptr(6.5)
	d.BehaviorPatterns.AverageExercise = ptr(45)
	d.BehaviorPatterns.SleepTrend = "declining"
	d.BehaviorPatterns.ExerciseStreak = 3
	d.ConversationContext = append(d.ConversationContext, brain.ConversationTurn{User: "sleep schedule", AI: "..."})
	return d
}

func TestNewResponder(t *testing.T) {
	tests := []struct {
		cfg  config.MentorConfig
		want any
	}{
		{config.MentorConfig{}, Rules{}},
		{config.MentorConfig{Provider: "rules"}, Rules{}},
		{config.MentorConfig{Provider: "openai", APIKey: "k"}, &OpenAI{}},
		{config.MentorConfig{Provider: "anthropic", APIKey: "k"}, &Anthropic{}},
		{config.MentorConfig{Provider: "ollama"}, &Ollama{}},
	}
	for _, tt := range tests {
		r, err := New(tt.cfg)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.cfg.Provider, err)
		}
		assert.IsType(t, tt.want, r, tt.cfg.Provider)
	}
}

func TestNewResponderErrors(t *testing.T) {
	for _, cfg := range []config.MentorConfig{
		{Provider: "openai"},
		{Provider: "anthropic"},
		{Provider: "oracle"},
	} {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%q): expected error", cfg.Provider)
		}
	}
}

func TestRulesAdvice(t *testing.T) {
	resp, err := Rules{}.Respond(context.Background(), testDoc(), "how am I doing?")
	require.NoError(t, err)
	assert.Equal(t, "rules", resp.Provider)
	assert.Contains(t, resp.Content, "Average sleep: 6.5 hours")
	assert.Contains(t, resp.Content, "less than 7 hours of sleep")
	assert.NotContains(t, resp.Content, "exercise routine could be improved")
	assert.Contains(t, resp.Content, "Exercise streak: 3 days")
	assert.Contains(t, resp.Content, "last conversation about your sleep schedule")
}

func TestRulesEmptyDocument(t *testing.T) {
	doc := brain.NewDocument("bob", time.Now())
	resp, err := Rules{}.Respond(context.Background(), doc, "hi")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Average sleep: N/A hours")
	// Missing averages count as zero, so both tips apply.
	assert.Contains(t, resp.Content, "less than 7 hours")
	assert.Contains(t, resp.Content, "exercise routine could be improved")
	assert.NotContains(t, resp.Content, "Continuing from")
}

func TestRulesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Rules{}.Respond(ctx, testDoc(), "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromptCarriesOnlyOwnerContext(t *testing.T) {
	p := Prompt(testDoc(), "what next?")
	assert.Contains(t, p, "USER QUESTION: what next?")
	assert.Contains(t, p, "BEHAVIOR PATTERNS")
	assert.Contains(t, p, "sleep schedule")
}

func TestOpenAIRespond(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Sleep earlier."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":40,"completion_tokens":2,"total_tokens":42}}`))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", DefaultOpenAIModel, srv.URL+"/v1", 5*time.Second)
	resp, err := o.Respond(context.Background(), testDoc(), "help")
	require.NoError(t, err)
	assert.Equal(t, "Sleep earlier.", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 42, resp.TokensUsed)

	assert.Equal(t, DefaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "sleep schedule")
	assert.Equal(t, "help", got.Messages[1].Content)
}

func TestOpenAIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", DefaultOpenAIModel, srv.URL+"/v1", 5*time.Second)
	_, err := o.Respond(context.Background(), testDoc(), "help")
	assert.Error(t, err)
}

func TestAnthropicRespond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.Contains(body["system"].(string), "BEHAVIOR PATTERNS") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"Rest more."}],"usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	a := NewAnthropic("key", "model", 5*time.Second)
	a.url = srv.URL
	resp, err := a.Respond(context.Background(), testDoc(), "help")
	require.NoError(t, err)
	assert.Equal(t, "Rest more.", resp.Content)
	assert.Equal(t, 13, resp.TokensUsed)

	a.apiKey = "wrong"
	_, err = a.Respond(context.Background(), testDoc(), "help")
	assert.Error(t, err)
}

func TestOllamaRespond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.Contains(body["prompt"].(string), "USER QUESTION: help") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"response":"Walk daily.","prompt_eval_count":7,"eval_count":2}`))
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "llama3.2", 5*time.Second)
	resp, err := o.Respond(context.Background(), testDoc(), "help")
	require.NoError(t, err)
	assert.Equal(t, "Walk daily.", resp.Content)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, 9, resp.TokensUsed)
}

func TestPostJSONErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("overloaded\n"))
		case "/garbled":
			w.Write([]byte("{not json"))
		default:
			if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Test") != "yes" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	var out struct {
		OK bool `json:"ok"`
	}
	header := http.Header{}
	header.Set("X-Test", "yes")
	require.NoError(t, postJSON(ctx, srv.Client(), "test", srv.URL+"/ok", header, map[string]string{}, &out))
	assert.True(t, out.OK)

	err := postJSON(ctx, srv.Client(), "test", srv.URL+"/down", nil, map[string]string{}, &out)
	require.Error(t, err)
	assert.Equal(t, "test api status 503: overloaded", err.Error())

	err = postJSON(ctx, srv.Client(), "test", srv.URL+"/garbled", nil, map[string]string{}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test: decode response")
}

func TestMock(t *testing.T) {
	m := &Mock{}
	resp, err := m.Respond(context.Background(), testDoc(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	m.Err = errors.New("down")
	_, err = m.Respond(context.Background(), testDoc(), "again")
	assert.Error(t, err)
	assert.Equal(t, []MockCall{{UserID: "alice", Message: "hi"}, {UserID: "alice", Message: "again"}}, m.Calls())
}
