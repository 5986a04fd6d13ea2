package model

import (
	"context"
	"sync"
)

// MockAdapter is a scripted Adapter for tests.
//
// Errs is consumed first, one entry per Generate call: a non-nil entry
// fails that call. Afterwards Responses are returned in order, repeating
// the last one.
//
// Example:
//
//	mock := &model.MockAdapter{
//	    Caps:      model.CapabilityDescriptor{Features: model.Features{JSONMode: true}},
//	    Responses: []model.Response{{"text": "hello"}},
//	}
type MockAdapter struct {
	// AdapterName is returned by Name(); "mock" when empty.
	AdapterName string

	// Caps is returned by Capabilities with Model set to the requested name.
	Caps CapabilityDescriptor

	// CapsErr, when set, fails Capabilities.
	CapsErr error

	// Responses are returned in order, repeating the last one.
	Responses []Response

	// Errs are returned in order before any response.
	Errs []error

	// Calls records every request passed to Generate.
	Calls []Request

	mu        sync.Mutex
	callIndex int
}

// Name returns AdapterName or "mock".
func (m *MockAdapter) Name() string {
	if m.AdapterName == "" {
		return "mock"
	}
	return m.AdapterName
}

// Capabilities returns Caps for modelName.
func (m *MockAdapter) Capabilities(ctx context.Context, modelName string) (CapabilityDescriptor, error) {
	if ctx.Err() != nil {
		return CapabilityDescriptor{}, ctx.Err()
	}
	if m.CapsErr != nil {
		return CapabilityDescriptor{}, m.CapsErr
	}
	caps := m.Caps
	caps.Model = modelName
	if caps.Provider == "" {
		caps.Provider = m.Name()
	}
	return caps, nil
}

// Generate records req and returns the next scripted outcome.
func (m *MockAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.Calls)
	m.Calls = append(m.Calls, req)

	if call < len(m.Errs) && m.Errs[call] != nil {
		return nil, m.Errs[call]
	}

	if len(m.Responses) == 0 {
		return Response{}, nil
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
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Generate calls.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
