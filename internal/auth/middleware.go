package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// claimsKey is a context key for the authenticated operator.
type claimsKey struct{}

// ClaimsFromContext returns the authenticated operator's claims.
// Returns nil if the request is not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// WithClaims returns ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// AuthMiddleware validates bearer tokens on API routes.
// Non-API paths (healthz, readyz, metrics) are skipped. Viewer tokens are
// limited to safe methods.
func AuthMiddleware(tokens *TokenService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			// The event stream authenticates via query parameter in its handler.
			if strings.HasPrefix(r.URL.Path, "/api/v1/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			claims, err := tokens.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				logger.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired access token")
				return
			}

			if !Role(claims.Role).CanWrite() && !safeMethod(r.Method) {
				writeAuthError(w, http.StatusForbidden, "role does not permit this operation")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// Guard bundles the token routes with the middleware so the server can
// mount both.
type Guard struct {
	tokens *TokenService
	logger *zap.Logger
}

// NewGuard creates a Guard backed by tokens.
func NewGuard(tokens *TokenService, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{tokens: tokens, logger: logger}
}

// RegisterRoutes mounts GET /api/v1/auth/whoami.
func (g *Guard) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/auth/whoami", g.handleWhoAmI)
}

// Middleware returns the bearer-token middleware.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return AuthMiddleware(g.tokens, g.logger)
}

// WhoAmIResponse describes the caller's token.
type WhoAmIResponse struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (g *Guard) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	c := ClaimsFromContext(r.Context())
	if c == nil {
		writeAuthError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	resp := WhoAmIResponse{Subject: c.Subject, Role: c.Role}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.Time
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeAuthError(w http.ResponseWriter, status int, detail string) {
	title := "Unauthorized"
	typ := "https://mailpulse.dev/problems/unauthorized"
	if status == http.StatusForbidden {
		title = "Forbidden"
		typ = "https://mailpulse.dev/problems/forbidden"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"title":  title,
		"status": status,
		"detail": detail,
	})
}
