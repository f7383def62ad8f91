package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Request captures one normalized generation call.
type Request struct {
	// Model overrides the adapter's default model id when set.
	Model string `json:"model,omitempty"`
	// Prompt is the user-facing generation input.
	Prompt string `json:"prompt"`
	// System is the optional system prompt.
	System string `json:"system,omitempty"`
	// Temperature overrides the adapter default when > 0.
	Temperature float64 `json:"temperature,omitempty"`
	// MaxTokens overrides the adapter default when > 0.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// Response is the completed generation output.
type Response struct {
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Info contains metadata about a backend implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "anthropic", "openai", "mock", etc.
}

// Backend is the minimal interface agents use to drive generation. Generate
// must honor the context deadline; callers always pass a bounded context.
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the backend implementation.
	Info() Info
}

// MockBackend is a lightweight in-memory Backend useful for tests and
// examples. Canned responses are matched by prompt; unmatched prompts get
// a generic echo. Err, when set, fails every call.
type MockBackend struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	calls     int

	// Err fails every Generate call when set.
	Err error
	// Delay simulates backend latency, honoring context cancellation.
	Delay time.Duration
	// FailFirst fails the first N calls with Err (or a generic error)
	// before succeeding, for retry tests.
	FailFirst int
}

// NewMockBackend constructs a MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		info:      Info{Name: "mock-model", Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockBackend) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Calls returns how many Generate calls were made.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Backend.
func (m *MockBackend) Generate(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	canned, ok := m.responses[req.Prompt]
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if m.Err != nil {
		return Response{}, m.Err
	}
	if call <= m.FailFirst {
		return Response{}, fmt.Errorf("mock backend failure %d of %d", call, m.FailFirst)
	}

	text := canned
	if !ok {
		text = "Mock response to: " + req.Prompt
	}
	return Response{
		Text:      text,
		Model:     m.info.Name,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Info implements Backend.
func (m *MockBackend) Info() Info { return m.info }
