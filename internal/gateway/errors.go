package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Upstream error taxonomy shared by every client that calls through the
// gateway.
var (
	// ErrAuth means the provider rejected the credential. Not retryable.
	ErrAuth = errors.New("upstream rejected credentials")
	// ErrUnavailable covers transport failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrCircuitOpen matches every CircuitOpenError.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrNoEndpoint means every endpoint for the service is at capacity or
	// none is registered.
	ErrNoEndpoint = errors.New("no endpoint available")
)

// DefaultRetryAfter is used when a throttling response carries no usable
// Retry-After header.
const DefaultRetryAfter = 30 * time.Second

// RateLimitError reports provider throttling.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream %s throttled, retry after %s", e.Endpoint, e.RetryAfter)
}

// CircuitOpenError is returned without any network attempt while an
// endpoint's breaker is open. It deliberately carries no underlying cause.
type CircuitOpenError struct {
	Endpoint string
	RetryIn  time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry in %s)", e.Endpoint, e.RetryIn.Round(time.Millisecond))
}

// Is lets callers treat an open circuit like any other unavailability.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen || target == ErrUnavailable
}

// Retryable reports whether a failed call may succeed if repeated later.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrAuth) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNoEndpoint)
}

// RetryAfter extracts a provider backoff hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return co.RetryIn, true
	}
	return 0, false
}

// ClassifyStatus maps an HTTP response status to the error taxonomy.
// Success and non-classified 4xx statuses return nil.
func ClassifyStatus(endpoint string, status int, header http.Header, now time.Time) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrAuth, endpoint, status)
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Endpoint: endpoint, RetryAfter: parseRetryAfter(header.Get("Retry-After"), now)}
	case status >= 500:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, endpoint, status)
	}
	return nil
}

func parseRetryAfter(raw string, now time.Time) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}
