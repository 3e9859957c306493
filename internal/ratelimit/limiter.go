// Package ratelimit implements the fixed-window login attempt limiter keyed
// by guard and client IP. Counters live in process memory with a TTL; they
// are a defense-in-depth measure and carry no durability requirements.
package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		entries: map[string]*entry{},
		now:     time.Now,
	}
}

// NewWithClock builds a limiter with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Limiter {
	l := New()
	l.now = now
	return l
}

// LoginKey builds the canonical attempt-counter key for a guard and client IP.
func LoginKey(guard, clientIP string) string {
	return "login_attempts:" + guard + ":" + clientIP
}

// Hit records one attempt against the key and returns the new count within
// the current window. The first hit of a window arms the decay timer.
func (l *Limiter) Hit(key string, decay time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.gcLocked(now)
		e = &entry{resetAt: now.Add(decay)}
		l.entries[key] = e
	}
	e.count++
	return e.count
}

// TooManyAttempts reports whether the key has reached max attempts in the
// current window.
func (l *Limiter) TooManyAttempts(key string, max int) bool {
	if max <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || l.now().After(e.resetAt) {
		return false
	}
	return e.count >= max
}

// AvailableIn returns how long until the key's window resets. Zero means the
// key is not currently limited.
func (l *Limiter) AvailableIn(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return 0
	}
	d := e.resetAt.Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// gcLocked drops expired windows once the map grows large. Caller holds mu.
func (l *Limiter) gcLocked(now time.Time) {
	if len(l.entries) < 1000 {
		return
	}
	for k, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, k)
		}
	}
}
