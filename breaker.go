package main

import (
	"sync"
	"time"
)

type circuitState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// breakerTable tracks a circuit per upstream endpoint. Two states only:
// closed (calls allowed) and open (calls fast-failed until openUntil).
// Recovery is purely elapsed-time based; the next call after the cooldown
// goes through and its outcome decides what happens next.
type breakerTable struct {
	mu        sync.Mutex
	states    map[string]*circuitState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newBreakerTable(threshold int, cooldown time.Duration) *breakerTable {
	return &breakerTable{
		states:    make(map[string]*circuitState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (b *breakerTable) allow(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[endpoint]
	if !ok {
		return true
	}
	return !b.now().Before(state.openUntil)
}

func (b *breakerTable) recordSuccess(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.states[endpoint]; ok {
		state.consecutiveFailures = 0
		state.openUntil = time.Time{}
	}
}

func (b *breakerTable) recordFailure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[endpoint]
	if !ok {
		state = &circuitState{}
		b.states[endpoint] = state
	}
	state.consecutiveFailures++
	if state.consecutiveFailures >= b.threshold {
		state.openUntil = b.now().Add(b.cooldown)
	}
}

// failureCount reports the current consecutive-failure count for an endpoint.
func (b *breakerTable) failureCount(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.states[endpoint]; ok {
		return state.consecutiveFailures
	}
	return 0
}
