package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status int
		header http.Header
		check  func(error) bool
	}{
		{"ok", 200, nil, func(err error) bool { return err == nil }},
		{"not found passes", 404, nil, func(err error) bool { return err == nil }},
		{"unauthorized", 401, nil, func(err error) bool { return errors.Is(err, ErrAuth) }},
		{"forbidden", 403, nil, func(err error) bool { return errors.Is(err, ErrAuth) }},
		{"server error", 503, nil, func(err error) bool { return errors.Is(err, ErrUnavailable) }},
		{"throttled", 429, http.Header{"Retry-After": []string{"7"}}, func(err error) bool {
			var rl *RateLimitError
			return errors.As(err, &rl) && rl.RetryAfter == 7*time.Second
		}},
		{"throttled no header", 429, http.Header{}, func(err error) bool {
			var rl *RateLimitError
			return errors.As(err, &rl) && rl.RetryAfter == DefaultRetryAfter
		}},
		{"throttled http date", 429, http.Header{"Retry-After": []string{now.Add(90 * time.Second).Format(http.TimeFormat)}}, func(err error) bool {
			var rl *RateLimitError
			return errors.As(err, &rl) && rl.RetryAfter == 90*time.Second
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			err := ClassifyStatus("ep", tt.status, h, now)
			if !tt.check(err) {
				t.Errorf("ClassifyStatus(%d) = %v", tt.status, err)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", fmt.Errorf("wrapped: %w", ErrAuth), false},
		{"unavailable", fmt.Errorf("wrapped: %w", ErrUnavailable), true},
		{"rate limited", &RateLimitError{RetryAfter: time.Second}, true},
		{"circuit open", &CircuitOpenError{Endpoint: "e"}, true},
		{"no endpoint", ErrNoEndpoint, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("%s: Retryable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	if d, ok := RetryAfter(&RateLimitError{RetryAfter: 5 * time.Second}); !ok || d != 5*time.Second {
		t.Errorf("RetryAfter(rate limit) = %v, %v", d, ok)
	}
	if d, ok := RetryAfter(fmt.Errorf("x: %w", &CircuitOpenError{RetryIn: time.Second})); !ok || d != time.Second {
		t.Errorf("RetryAfter(circuit open) = %v, %v", d, ok)
	}
	if _, ok := RetryAfter(ErrUnavailable); ok {
		t.Error("RetryAfter(unavailable) ok = true, want false")
	}
}
