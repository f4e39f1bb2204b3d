package adapter

import (
	"context"
	"sync"
	"time"
)

// MockResponse is one scripted reply. A non-nil Err is returned instead of
// content. Delay holds the reply back, honouring context cancellation.
type MockResponse struct {
	Text        string
	Annotations []Annotation
	Err         error
	Delay       time.Duration
}

// MockCall records a request the mock received.
type MockCall struct {
	Capability Capability
	System     string
	Prompt     string
	JSON       bool
}

// MockAdapter returns scripted responses for local runs and tests. Scripted
// replies are consumed in order; once exhausted the default reply repeats.
type MockAdapter struct {
	mu        sync.Mutex
	name      Provider
	available bool
	script    []MockResponse
	fallback  MockResponse
	calls     []MockCall
}

// NewMockAdapter creates an available mock that answers "{}" by default.
func NewMockAdapter(name Provider) *MockAdapter {
	return &MockAdapter{
		name:      name,
		available: true,
		fallback:  MockResponse{Text: "{}"},
	}
}

// Reply appends scripted replies.
func (m *MockAdapter) Reply(responses ...MockResponse) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// Default sets the reply used once the script is exhausted.
func (m *MockAdapter) Default(resp MockResponse) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
	return m
}

// SetAvailable toggles whether the mock reports a configured credential.
func (m *MockAdapter) SetAvailable(available bool) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	return m
}

// Name returns the adapter identifier.
func (m *MockAdapter) Name() Provider {
	return m.name
}

// Available reports the configured availability.
func (m *MockAdapter) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Calls returns a copy of every request received so far.
func (m *MockAdapter) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of requests received so far.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Complete returns the next scripted reply.
func (m *MockAdapter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := m.next(ctx, MockCall{Capability: CapabilityChat, System: req.System, Prompt: req.Prompt, JSON: req.JSON})
	if err != nil {
		return nil, err
	}
	return &Completion{Text: resp.Text, Model: "mock-1"}, nil
}

// CompleteVision returns the next scripted reply.
func (m *MockAdapter) CompleteVision(ctx context.Context, req VisionRequest) (*Completion, error) {
	resp, err := m.next(ctx, MockCall{Capability: CapabilityVision, System: req.System, Prompt: req.Prompt, JSON: true})
	if err != nil {
		return nil, err
	}
	return &Completion{Text: resp.Text, Model: "mock-1"}, nil
}

// Search returns the next scripted reply as a search answer.
func (m *MockAdapter) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	resp, err := m.next(ctx, MockCall{Capability: CapabilitySearch, System: req.System, Prompt: req.Query})
	if err != nil {
		return nil, err
	}
	return &SearchResult{RawText: resp.Text, Annotations: resp.Annotations, Model: "mock-1"}, nil
}

func (m *MockAdapter) next(ctx context.Context, call MockCall) (MockResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	resp := m.fallback
	if len(m.script) > 0 {
		resp = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return MockResponse{}, normalizeError(m.name, ctx.Err())
		case <-timer.C:
		}
	}
	if resp.Err != nil {
		return MockResponse{}, resp.Err
	}
	return resp, nil
}
