package server

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		incoming  string
		propagate bool
	}{
		{"generated", "", false},
		{"propagated", "trace-abc", true},
		{"propagated uuid", "0b7c6f7e-2c1a-4d8e-9f00-5a1b2c3d4e5f", true},
		{"log injection replaced", "abc\nlevel=error", false},
		{"oversized replaced", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/monitor/status", http.NoBody)
			if tc.incoming != "" {
				req.Header.Set("X-Request-ID", tc.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Errorf("header %q, context %q", got, seen)
			}
			if tc.propagate {
				if got != tc.incoming {
					t.Errorf("X-Request-ID = %q, want %q", got, tc.incoming)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("generated X-Request-ID %q is not a UUID: %v", got, err)
			}
		})
	}
}

func TestLoggingMiddleware_PassesStatus(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop(), []string{"/healthz"}, nil)(okHandler(http.StatusCreated))

	for _, path := range []string{"/api/v1/monitor/sessions/alice", "/healthz"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, http.NoBody))
		if w.Code != http.StatusCreated {
			t.Errorf("%s: status = %d, want 201", path, w.Code)
		}
	}
}

func TestSecurityAndVersionHeaders(t *testing.T) {
	handler := SecurityHeadersMiddleware(VersionHeaderMiddleware(okHandler(http.StatusOK)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody))

	tests := []struct {
		header string
		want   string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Cache-Control", "no-store"},
		{"X-MailPulse-Version", "dev"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(zap.NewNop())(panicky).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content-type = %q, want application/problem+json", ct)
	}

	w = httptest.NewRecorder()
	RecoveryMiddleware(zap.NewNop())(okHandler(http.StatusOK)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("status without panic = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	// One request per second, burst of one.
	handler := RateLimitMiddleware(1, 1, []string{"/healthz"}, nil)(okHandler(http.StatusOK))

	send := func(path, addr string) int {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := send("/api/v1/monitor/status", "10.0.0.1:9999"); got != http.StatusOK {
		t.Fatalf("first request = %d, want 200", got)
	}
	if got := send("/api/v1/monitor/status", "10.0.0.1:9999"); got != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", got)
	}
	if got := send("/api/v1/monitor/status", "10.0.0.2:9999"); got != http.StatusOK {
		t.Errorf("other client = %d, want 200", got)
	}
	if got := rateLimitedCount(t); got < 1 {
		t.Errorf("rate limited counter = %v, want at least 1", got)
	}
	for i := 0; i < 5; i++ {
		if got := send("/healthz", "10.0.0.1:9999"); got != http.StatusOK {
			t.Fatalf("skipped path request %d = %d, want 200", i, got)
		}
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-before")
				next.ServeHTTP(w, r)
				order = append(order, name+"-after")
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "handler")
	})

	Chain(inner, mw("a"), mw("b")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	want := []string{"a-before", "b-before", "handler", "b-after", "a-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func rateLimitedCount(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := httpRateLimited.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRateLimitMiddleware_SpoofedForwardedFor(t *testing.T) {
	handler := RateLimitMiddleware(1, 1, nil, nil)(okHandler(http.StatusOK))

	// An untrusted peer rotating X-Forwarded-For still shares one bucket.
	for i, xff := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/monitor/status", http.NoBody)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		want := http.StatusOK
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Errorf("request %d with X-Forwarded-For %s = %d, want %d", i, xff, w.Code, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	trusted, invalid := ParseTrustedProxies([]string{"127.0.0.1", "10.0.0.0/8"})
	if len(invalid) != 0 {
		t.Fatalf("invalid = %v", invalid)
	}

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "192.168.1.100:12345", "", "192.168.1.100"},
		{"untrusted peer ignores header", "192.168.1.100:12345", "203.0.113.50", "192.168.1.100"},
		{"trusted proxy", "127.0.0.1:12345", "203.0.113.50", "203.0.113.50"},
		{"rightmost untrusted hop", "127.0.0.1:12345", "198.51.100.7, 203.0.113.50, 10.1.2.3", "203.0.113.50"},
		{"all hops trusted", "127.0.0.1:12345", "10.1.2.3", "127.0.0.1"},
		{"trusted proxy without header", "10.0.0.5:80", "", "10.0.0.5"},
		{"not a host port", "not-a-hostport", "203.0.113.50", "not-a-hostport"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIP(req, trusted); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, invalid := ParseTrustedProxies([]string{" 10.0.0.0/8 ", "192.168.1.7", "::1", "proxy.local", "10.0.0.0/33"})

	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("::1/128"),
	}
	if len(prefixes) != len(want) {
		t.Fatalf("prefixes = %v, want %v", prefixes, want)
	}
	for i := range want {
		if prefixes[i] != want[i] {
			t.Errorf("prefixes[%d] = %v, want %v", i, prefixes[i], want[i])
		}
	}
	if len(invalid) != 2 || invalid[0] != "proxy.local" || invalid[1] != "10.0.0.0/33" {
		t.Errorf("invalid = %v, want [proxy.local 10.0.0.0/33]", invalid)
	}
}

func TestMuxRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/monitor/sessions/{account}", func(http.ResponseWriter, *http.Request) {})
	mux.HandleFunc("GET /healthz", func(http.ResponseWriter, *http.Request) {})
	route := MuxRoute(mux)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/monitor/sessions/alice@example.com", "GET /api/v1/monitor/sessions/{account}"},
		{http.MethodGet, "/api/v1/monitor/sessions/bob", "GET /api/v1/monitor/sessions/{account}"},
		{http.MethodGet, "/healthz", "GET /healthz"},
		{http.MethodGet, "/nope", unmatchedRoute},
	}
	for _, tc := range tests {
		if got := route(httptest.NewRequest(tc.method, tc.path, http.NoBody)); got != tc.want {
			t.Errorf("route(%s %s) = %q, want %q", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestStatusWriter(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusNotFound)
	if sw.status != http.StatusCreated {
		t.Errorf("status = %d, want 201 (first call wins)", sw.status)
	}
}
