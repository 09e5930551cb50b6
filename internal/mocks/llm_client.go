// Package mocks provides shared mock implementations for testing.
package mocks

import (
	"context"
	"sync"

	"testsmith/pkg/llm"
)

// MockLLMClient implements llm.LLMClient for testing. Responses and errors
// can be scripted as a sequence, or Complete behavior overridden entirely.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize
	// behavior; scripted responses are ignored while set.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	// script is the queued sequence of responses/errors, consumed in order.
	script []scriptEntry

	// modelName is the model name returned by GetModelName.
	modelName string

	// mu protects call tracking and the script.
	mu sync.Mutex
}

type scriptEntry struct {
	response llm.CompletionResponse
	err      error
}

// NewMockLLMClient creates a mock whose default Complete returns a fixed
// response.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{modelName: "mock-model"}
}

// Complete implements llm.LLMClient. Consumes the next scripted entry when
// one is queued; the last entry repeats once the script is exhausted.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	var entry *scriptEntry
	if fn == nil && len(m.script) > 0 {
		entry = &m.script[0]
		if len(m.script) > 1 {
			m.script = m.script[1:]
		}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if entry != nil {
		return entry.response, entry.err
	}
	return llm.CompletionResponse{Content: "mock response", StopReason: "end_turn"}, nil
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelName
}

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelName = name
}

// OnComplete sets a custom handler for Complete calls.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
}

// QueueResponse appends a successful completion to the script.
func (m *MockLLMClient) QueueResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{
		response: llm.CompletionResponse{Content: content, StopReason: "end_turn"},
	})
}

// QueueError appends a failing completion to the script.
func (m *MockLLMClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{err: err})
}

// CallCount returns the number of Complete invocations.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastPrompt returns the user-message content of the most recent Complete
// call, or empty when none occurred.
func (m *MockLLMClient) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return ""
	}
	req := m.CompleteCalls[len(m.CompleteCalls)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
