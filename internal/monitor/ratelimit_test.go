package monitor

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowLimit(t *testing.T) {
	l := NewRateLimiter(60*time.Second, 20)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 20 {
		if !l.Allow("acct", base.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("attempt %d rejected, want allowed", i+1)
		}
	}
	if l.Allow("acct", base.Add(30*time.Second)) {
		t.Error("21st attempt allowed, want rejected")
	}
	if got := l.Count("acct"); got != 20 {
		t.Errorf("Count = %d, want 20", got)
	}

	if !l.Allow("acct", base.Add(61*time.Second)) {
		t.Error("attempt after window rejected")
	}
	if got := l.Count("acct"); got != 1 {
		t.Errorf("Count after reset = %d, want 1", got)
	}
}

func TestRateLimiter_BoundaryIsInclusive(t *testing.T) {
	l := NewRateLimiter(time.Minute, 1)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	l.Allow("a", base)
	if l.Allow("a", base.Add(time.Minute)) {
		t.Error("attempt exactly one window later allowed, want rejected")
	}
	if !l.Allow("a", base.Add(time.Minute+time.Millisecond)) {
		t.Error("attempt just past the window rejected")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l := NewRateLimiter(time.Minute, 1)
	now := time.Now()
	if !l.Allow("a", now) || !l.Allow("b", now) {
		t.Fatal("first attempt per key should be allowed")
	}
	if l.Allow("a", now) {
		t.Error("second attempt for a allowed")
	}
}

func TestRateLimiter_Purge(t *testing.T) {
	l := NewRateLimiter(time.Minute, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Allow("old", base)
	l.Allow("fresh", base.Add(90*time.Second))

	if n := l.Purge(base.Add(2 * time.Minute)); n != 0 {
		t.Errorf("Purge at exactly 2x window removed %d, want 0", n)
	}
	if n := l.Purge(base.Add(2*time.Minute + time.Second)); n != 1 {
		t.Errorf("Purge removed %d, want 1", n)
	}
	if l.Len() != 1 || l.Count("fresh") != 1 {
		t.Errorf("remaining keys = %d, fresh count = %d", l.Len(), l.Count("fresh"))
	}
}
