package mock

import (
	"context"
	"sync"
)

// MockGenerator is a test double for ai.Generator.
// It allows custom behavior injection via function fields, or a scripted
// sequence of responses returned in order.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, uses scripted responses or the default skip response.
	GenerateFunc func(ctx context.Context, system, user string) (string, error)

	// Responses is a scripted sequence returned in order by Generate.
	// When exhausted, the last response repeats.
	Responses []string

	mu        sync.Mutex
	callCount int
	prompts   []string
}

// NewMockGenerator creates a mock generator with default behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{Responses: responses}
}

// Generate returns the next scripted response, or the skip probe if nothing
// is scripted.
func (m *MockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	call := m.callCount
	m.callCount++
	m.prompts = append(m.prompts, user)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, user)
	}

	if len(m.Responses) == 0 {
		return `{"skip": true}`, nil
	}
	if call >= len(m.Responses) {
		call = len(m.Responses) - 1
	}
	return m.Responses[call], nil
}

// CallCount returns the number of times Generate was called.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Prompts returns the user prompts Generate received, in order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset clears the call count, recorded prompts and custom functions.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.prompts = nil
	m.GenerateFunc = nil
}
