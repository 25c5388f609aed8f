package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scriptable Client for tests. Responses are returned in
// order; the last one repeats once exhausted.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     [][]Message
}

// NewMockClient creates a mock that replays the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// FailWith makes every subsequent call return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GenerateResponse implements Client.
func (m *MockClient) GenerateResponse(_ context.Context, messages []Message, _ Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, messages)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock client has no scripted responses")
	}

	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// Calls returns the message lists passed to GenerateResponse so far.
func (m *MockClient) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) Provider() string { return "mock" }
