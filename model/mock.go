package model

import (
	"context"
	"sync"
)

// Mock is a scriptable Client for tests.
//
// Responses are returned in FIFO order; when the script is exhausted the
// last response repeats. Set Err to fail every call, or push an error into
// the script with PushErr.
type Mock struct {
	mu        sync.Mutex
	script    []mockTurn
	calls     []Request
	fallback  Response
	globalErr error
}

type mockTurn struct {
	resp Response
	err  error
}

// NewMock creates a Mock that answers fallbackContent for every call until
// scripted otherwise.
func NewMock(fallbackContent string) *Mock {
	return &Mock{fallback: Response{Content: fallbackContent, Model: "mock"}}
}

// Push appends a scripted successful response.
func (m *Mock) Push(content string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockTurn{resp: Response{Content: content, Model: "mock"}})
	return m
}

// PushErr appends a scripted failure.
func (m *Mock) PushErr(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockTurn{err: err})
	return m
}

// Fail makes every call return err, overriding the script.
func (m *Mock) Fail(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalErr = err
	return m
}

// Calls returns the requests observed so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Complete implements Client.
func (m *Mock) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if m.globalErr != nil {
		return Response{}, m.globalErr
	}
	if len(m.script) > 0 {
		turn := m.script[0]
		m.script = m.script[1:]
		if turn.err != nil {
			return Response{}, turn.err
		}
		return turn.resp, nil
	}
	return m.fallback, nil
}
