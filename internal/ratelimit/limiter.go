// Package ratelimit bounds request counts per client over a fixed window.
// The limiter is the one piece of shared mutable state in the request
// pipeline, so every read and increment happens under a single mutex. It is
// injected into the middleware as a dependency and can be reset in tests.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one Allow call, carrying everything the
// transport needs to render standard rate-limit headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type windowState struct {
	start time.Time
	count int
}

// Limiter maintains per-client fixed-window counters.
type Limiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	clients   map[string]*windowState
	lastSweep time.Time

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates a limiter allowing max requests per client per window.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		clients: make(map[string]*windowState),
		now:     time.Now,
	}
}

// Allow records one request for the client and decides whether it may
// proceed. Counters roll over once the window elapses.
func (l *Limiter) Allow(clientKey string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	state, ok := l.clients[clientKey]
	if !ok || now.Sub(state.start) >= l.window {
		state = &windowState{start: now}
		l.clients[clientKey] = state
	}

	resetAt := state.start.Add(l.window)

	if state.count >= l.max {
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	state.count++
	return Decision{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - state.count,
		ResetAt:   resetAt,
	}
}

// Reset clears all counters.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = make(map[string]*windowState)
}

// sweepLocked drops expired windows so the map does not grow with one entry
// per client forever. Runs at most once per window.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	for key, state := range l.clients {
		if now.Sub(state.start) >= l.window {
			delete(l.clients, key)
		}
	}
}
