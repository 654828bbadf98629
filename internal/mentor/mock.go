package mentor

import (
	"context"
	"sync"

	"github.com/lazypower/sanctum/internal/brain"
)

// Mock is a test double for Responder.
type Mock struct {
	Response *Response
	Err      error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Respond call.
type MockCall struct {
	UserID  string
	Message string
}

// Respond records the call and returns the canned response.
func (m *Mock) Respond(ctx context.Context, doc *brain.Document, message string) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{UserID: doc.UserID, Message: message})
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response == nil {
		return &Response{Content: "ok", Provider: "mock"}, nil
	}
	r := *m.Response
	return &r, nil
}

// Calls returns the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
