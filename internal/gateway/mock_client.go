package gateway

import (
	"context"
	"sync"
)

// MockClient answers requests from a handler and records every call.
type MockClient struct {
	mu      sync.Mutex
	handler func(Request) (Completion, error)
	calls   []Request
}

// NewMockClient creates a mock completion client. A nil handler answers
// every request with an empty JSON object.
func NewMockClient(handler func(Request) (Completion, error)) *MockClient {
	if handler == nil {
		handler = func(Request) (Completion, error) {
			return Completion{Text: "{}", FinishReason: FinishStop}, nil
		}
	}
	return &MockClient{handler: handler}
}

func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	completion, err := m.CompleteStructured(ctx, req)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

func (m *MockClient) CompleteStructured(ctx context.Context, req Request) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	completion, err := m.handler(req)
	if err != nil {
		return Completion{}, err
	}
	if completion.FinishReason == "" {
		completion.FinishReason = FinishStop
	}
	UsageFrom(ctx).Add(completion.InputTokens, completion.OutputTokens)
	return completion, nil
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the recorded requests for one operation.
func (m *MockClient) CallsFor(operation string) []Request {
	var out []Request
	for _, req := range m.Calls() {
		if req.Operation == operation {
			out = append(out, req)
		}
	}
	return out
}
