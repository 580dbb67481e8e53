package monitor

import "time"

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window attempt limiter keyed by account. It is not
// safe for concurrent use; the scheduler serializes access under its lock.
type RateLimiter struct {
	window  time.Duration
	max     int
	entries map[string]*rateWindow
}

// NewRateLimiter allows at most limit attempts per key in each window.
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     limit,
		entries: make(map[string]*rateWindow),
	}
}

// Allow records an attempt for key at now and reports whether it is within
// the limit. An attempt after the window has elapsed opens a new window
// with a count of one.
func (l *RateLimiter) Allow(key string, now time.Time) bool {
	w, ok := l.entries[key]
	if !ok || now.Sub(w.start) > l.window {
		l.entries[key] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Count returns the attempts recorded in key's current window.
func (l *RateLimiter) Count(key string) int {
	if w, ok := l.entries[key]; ok {
		return w.count
	}
	return 0
}

// Purge drops windows that started more than twice the window length ago
// and returns how many were removed.
func (l *RateLimiter) Purge(now time.Time) int {
	n := 0
	for k, w := range l.entries {
		if now.Sub(w.start) > 2*l.window {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	return len(l.entries)
}
