package llm

import (
	"context"
	"sync"
)

// MockResponse is one scripted reply: either Content or Err.
type MockResponse struct {
	Content string
	Err     error
}

// MockProvider replays scripted replies in order and records every request.
// Once the script is exhausted it answers through Fallback, or fails with
// ErrProviderUnavailable when Fallback is nil.
type MockProvider struct {
	mu     sync.Mutex
	script []MockResponse
	Calls  []Request

	Fallback func(Request) (string, error)
}

// NewMockProvider returns a provider that replays script.
func NewMockProvider(script ...MockResponse) *MockProvider {
	return &MockProvider{script: script}
}

// NewOfflineProvider returns a provider that needs no network. The patient
// declines to answer and every submission gets the same neutral grade, which
// is enough to click through the whole flow locally.
func NewOfflineProvider() *MockProvider {
	return &MockProvider{Fallback: offlineReply}
}

const (
	offlinePatientReply = "I'm sorry, doctor, I can't say. (offline mode)"
	offlineFeedback     = `{"diagnosis_score":2,"tests_score":1,"plan_score":1,` +
		`"feedback":["No evaluator is connected; this grade is a placeholder."],` +
		`"learning_points":[],"red_flags":false}`
)

func offlineReply(req Request) (string, error) {
	if req.JSON {
		return offlineFeedback, nil
	}
	return offlinePatientReply, nil
}

func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	var next *MockResponse
	if len(m.script) > 0 {
		next = &m.script[0]
		m.script = m.script[1:]
	}
	fallback := m.Fallback
	m.mu.Unlock()

	var content string
	var err error
	switch {
	case next != nil:
		content, err = next.Content, next.Err
	case fallback != nil:
		content, err = fallback(req)
	default:
		err = &ErrProviderUnavailable{}
	}
	if err != nil {
		return nil, err
	}
	return &Response{Content: content, Model: "mock", StopReason: "end"}, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

// AddResponse appends to the script.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	m.script = append(m.script, resp)
	m.mu.Unlock()
}

// CallCount reports how many requests the provider has seen.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
