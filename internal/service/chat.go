package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/sanctum/internal/records"
)

// ChatResult is the mentor's reply to one message.
type ChatResult struct {
	Response          string    `json:"response"`
	Provider          string    `json:"provider"`
	TokensUsed        int       `json:"tokens_used,omitempty"`
	ConversationTurns int       `json:"conversation_turns"`
	Timestamp         time.Time `json:"timestamp"`
}

// Chat answers message from the user's own document, then keeps the
// exchange in the brain's conversation buffer and the chat history.
func (s *Service) Chat(ctx context.Context, userID, message string) (*ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	doc, err := s.brain.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp, err := s.mentor.Respond(ctx, doc, message)
	if err != nil {
		s.logger.Warn("mentor failed", "user_id", userID, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrMentorUnavailable, err)
	}

	doc, err = s.brain.PushConversationTurn(ctx, userID, message, resp.Content)
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(map[string]any{
		"provider":    resp.Provider,
		"tokens_used": resp.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat context: %w", err)
	}
	if _, err := s.records.AddChatTurn(ctx, userID, records.ChatTurn{Message: message, IsUser: true}); err != nil {
		return nil, err
	}
	reply, err := s.records.AddChatTurn(ctx, userID, records.ChatTurn{Message: resp.Content, ContextData: meta})
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Response:          resp.Content,
		Provider:          resp.Provider,
		TokensUsed:        resp.TokensUsed,
		ConversationTurns: len(doc.ConversationContext),
		Timestamp:         reply.Timestamp,
	}, nil
}

// ChatHistory returns up to limit of the user's latest chat turns, oldest
// first.
func (s *Service) ChatHistory(ctx context.Context, userID string, limit int) ([]records.ChatTurn, error) {
	return s.records.RecentChat(ctx, userID, limit)
}
