package service

import (
	"context"
	"fmt"
	"sync"
)

// MockHandle is a scripted in-memory Handle for testing.
//
// Every Status call consumes the next queued state, if any, and the handle
// settles on the last state it reported. Start and Stop enqueue the
// configured StartSequence or StopSequence.
type MockHandle struct {
	mu sync.Mutex

	name    string
	state   State
	pending []State
	closed  bool

	// Sequences reported after a Start/Stop request.
	StartSequence []State
	StopSequence  []State

	// Return values
	StartError  error
	StopError   error
	StatusError error

	// Call counters
	StartCalls  int
	StopCalls   int
	StatusCalls int
	CloseCalls  int
}

// NewMockHandle creates a mock handle in the given initial state that walks
// Starting→Running on Start and Stopping→Stopped on Stop.
func NewMockHandle(name string, initial State) *MockHandle {
	return &MockHandle{
		name:          name,
		state:         initial,
		StartSequence: []State{StateStarting, StateRunning},
		StopSequence:  []State{StateStopping, StateStopped},
	}
}

func (m *MockHandle) Name() string {
	return m.name
}

// Status returns the next scripted state.
func (m *MockHandle) Status(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StatusCalls++
	if m.StatusError != nil {
		return StateUnknown, m.StatusError
	}
	if len(m.pending) > 0 {
		m.state = m.pending[0]
		m.pending = m.pending[1:]
	}
	return m.state, nil
}

// Start records the request and enqueues StartSequence.
func (m *MockHandle) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartCalls++
	if m.StartError != nil {
		return m.StartError
	}
	m.pending = append([]State(nil), m.StartSequence...)
	return nil
}

// Stop records the request and enqueues StopSequence.
func (m *MockHandle) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StopCalls++
	if m.StopError != nil {
		return m.StopError
	}
	m.pending = append([]State(nil), m.StopSequence...)
	return nil
}

func (m *MockHandle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	m.closed = true
	return nil
}

// Script appends states reported by subsequent Status calls, e.g. to
// simulate a service that stops on its own.
func (m *MockHandle) Script(states ...State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, states...)
}

// SetState forces the current state and drops any queued states.
func (m *MockHandle) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.pending = nil
}

// SetStatusError makes subsequent Status calls fail with err.
func (m *MockHandle) SetStatusError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusError = err
}

// State returns the last reported state without consuming the queue.
func (m *MockHandle) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Counts returns the start, stop and status call counters.
func (m *MockHandle) Counts() (starts, stops, statuses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartCalls, m.StopCalls, m.StatusCalls
}

// Closed reports whether Close was called.
func (m *MockHandle) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockProvider is an in-memory Provider for testing.
type MockProvider struct {
	mu sync.Mutex

	Handles   map[string]*MockHandle
	OpenError error
	OpenCalls int
}

// NewMockProvider creates a provider serving the given handles by name.
func NewMockProvider(handles ...*MockHandle) *MockProvider {
	p := &MockProvider{Handles: make(map[string]*MockHandle)}
	for _, h := range handles {
		p.Handles[h.Name()] = h
	}
	return p
}

// Open returns the registered handle for name.
func (p *MockProvider) Open(ctx context.Context, name string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.OpenCalls++
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	h, ok := p.Handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return h, nil
}

// Opens returns the number of Open calls.
func (p *MockProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.OpenCalls
}
