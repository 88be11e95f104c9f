// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package abuse implements the window-scoped abuse counters guarding the
// connect and message paths. A limit is defined by a key template, a maximum
// count, and a window; the template is instantiated with live request values
// (ip, url, connection id) to form the bucket identifier.
package abuse

import (
	"strings"
	"sync"
	"time"
)

// Result reports the outcome of one abuse check. Remaining and Reset are
// exposed so the HTTP layer can surface them as rate-limit headers.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// counter tracks one bucket's count within its current window.
type counter struct {
	count       int64
	windowStart time.Time
}

// CounterStore holds the window counters for all buckets of one limiter
// scope. Increment-and-compare is atomic under a single mutex, so two
// concurrent checks on the same bucket can never both observe the count
// below the limit when only one slot is left.
type CounterStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	maxKeys  int
	now      func() time.Time
}

// NewCounterStore creates a counter store. maxKeys bounds memory under key
// churn; 0 means unlimited.
func NewCounterStore(maxKeys int) *CounterStore {
	return &CounterStore{
		counters: make(map[string]*counter),
		maxKeys:  maxKeys,
		now:      time.Now,
	}
}

// incr advances the bucket's window if it has elapsed, increments the
// counter, and returns the new count together with the window's reset time.
func (s *CounterStore) incr(key string, window time.Duration) (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok {
		if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictExpired(now, window)
		}
		c = &counter{windowStart: now}
		s.counters[key] = c
	} else if now.Sub(c.windowStart) >= window {
		c.count = 0
		c.windowStart = now
	}

	c.count++
	return c.count, c.windowStart.Add(window)
}

// evictExpired drops buckets whose window has fully elapsed.
// Must be called with s.mu held.
func (s *CounterStore) evictExpired(now time.Time, window time.Duration) {
	for key, c := range s.counters {
		if now.Sub(c.windowStart) >= window {
			delete(s.counters, key)
		}
	}
	// Still at capacity: drop an arbitrary bucket rather than grow unbounded.
	if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
		for key := range s.counters {
			delete(s.counters, key)
			return
		}
	}
}

// Len returns the number of live buckets.
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Limiter checks one abuse limit, e.g. 128 connection attempts per minute
// per (ip, url). When disabled, checks always pass without touching any
// counter. Privileged-role bypass is the caller's responsibility.
type Limiter struct {
	template string
	max      int64
	window   time.Duration
	store    *CounterStore
	enabled  bool
}

// NewLimiter creates a limiter over the given key template, e.g.
// "url:{url},ip:{ip}". Each limiter owns its counter store.
func NewLimiter(template string, max int64, window time.Duration, enabled bool, maxKeys int) *Limiter {
	return &Limiter{
		template: template,
		max:      max,
		window:   window,
		store:    NewCounterStore(maxKeys),
		enabled:  enabled,
	}
}

// Check instantiates the key template with the given parameter values,
// increments the bucket, and compares against the limit. Parameter names
// are referenced in the template as "{name}".
func (l *Limiter) Check(params map[string]string) Result {
	if !l.enabled {
		return Result{Allowed: true, Limit: l.max, Remaining: l.max}
	}

	key := l.template
	for name, value := range params {
		key = strings.ReplaceAll(key, "{"+name+"}", value)
	}

	count, reset := l.store.incr(key, l.window)
	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		Reset:     reset,
	}
}

// Enabled reports whether abuse checking is active.
func (l *Limiter) Enabled() bool {
	return l.enabled
}
