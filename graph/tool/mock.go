package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests.
//
// Errs is consumed first, one entry per call: a non-nil entry fails that
// call, a nil entry falls through to Responses. Once Errs is exhausted,
// Responses are returned in order and the last one repeats.
//
// Example:
//
//	flaky := &tool.MockTool{
//	    ToolName:  "search",
//	    Errs:      []error{errors.New("timeout")},
//	    Responses: []map[string]interface{}{{"hits": 3}},
//	}
type MockTool struct {
	// ToolName is returned by Name().
	ToolName string

	// Responses are returned in order, repeating the last one.
	Responses []map[string]interface{}

	// Errs are returned in order before any response.
	Errs []error

	// Calls records every input received.
	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name returns ToolName.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call records input and returns the next scripted outcome.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.Calls)
	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if call < len(m.Errs) && m.Errs[call] != nil {
		return nil, m.Errs[call]
	}

	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and rewinds the script.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of calls made.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
