package metricsync

import "sync"

// AppState is the host application's visibility.
type AppState int

const (
	Foreground AppState = iota
	Background
)

func (s AppState) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// LifecycleSource reports foreground/background transitions of the host
// application. Subscribe returns a function that removes the subscription.
type LifecycleSource interface {
	Current() AppState
	Subscribe(fn func(AppState)) (unsubscribe func())
}

// ManualLifecycle is a LifecycleSource driven by explicit Set calls. The CLI
// maps signals onto it; tests drive it directly.
type ManualLifecycle struct {
	mu    sync.Mutex
	state AppState
	subs  map[int]func(AppState)
	next  int
}

// NewManualLifecycle starts in the given state.
func NewManualLifecycle(initial AppState) *ManualLifecycle {
	return &ManualLifecycle{state: initial, subs: make(map[int]func(AppState))}
}

func (m *ManualLifecycle) Current() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ManualLifecycle) Subscribe(fn func(AppState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Subscribers returns the number of active subscriptions.
func (m *ManualLifecycle) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Set moves to state and notifies subscribers if it changed.
func (m *ManualLifecycle) Set(state AppState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	fns := make([]func(AppState), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
