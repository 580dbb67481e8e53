// Package oauth exchanges long-lived refresh credentials for short-lived
// access credentials at the mail provider's token endpoint.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Config holds token endpoint settings.
type Config struct {
	TokenURL     string        `mapstructure:"token_url"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
}

// DefaultConfig targets the Microsoft identity platform consumer tenant.
func DefaultConfig() Config {
	return Config{
		TokenURL:   "https://login.microsoftonline.com/consumers/oauth2/v2.0/token",
		Scopes:     []string{"https://graph.microsoft.com/Mail.Read", "offline_access"},
		DefaultTTL: time.Hour,
	}
}

// permanentCodes are OAuth error codes that mean the refresh credential
// will never work again without user re-authorization.
var permanentCodes = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"interaction_required",
	"consent_required",
}

// Client performs refresh-token exchanges through an HTTP client that is
// normally backed by the gateway's "token" service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// NewClient creates an exchange client. httpClient should route through the
// gateway so token calls share breaker protection with mail calls.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.TokenURL == "" {
		cfg.TokenURL = def.TokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = def.Scopes
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, now: time.Now, logger: logger}
}

// Exchange trades refreshToken for an access credential. A rotated refresh
// credential, when the provider issues one, is returned in RefreshToken.
func (c *Client) Exchange(ctx context.Context, refreshToken, clientID string) (models.AccountCredential, error) {
	if refreshToken == "" {
		return models.AccountCredential{}, fmt.Errorf("%w: empty refresh credential", gateway.ErrAuth)
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: c.cfg.ClientSecret,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return models.AccountCredential{}, c.classify(err)
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = c.now().Add(c.cfg.DefaultTTL)
	}
	cred := models.AccountCredential{
		ClientID:    clientID,
		AccessToken: tok.AccessToken,
		ExpiresAt:   expires,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		cred.RefreshToken = tok.RefreshToken
	}
	return cred, nil
}

func (c *Client) classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := strings.ToLower(re.ErrorCode)
		for _, p := range permanentCodes {
			if code == p {
				return fmt.Errorf("%w: token endpoint: %s", gateway.ErrAuth, re.ErrorCode)
			}
		}
		if re.Response != nil {
			status := re.Response.StatusCode
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return fmt.Errorf("%w: token endpoint returned %d", gateway.ErrAuth, status)
			}
			if cerr := gateway.ClassifyStatus("token", status, re.Response.Header, c.now()); cerr != nil {
				return cerr
			}
		}
		return fmt.Errorf("%w: token endpoint: %v", gateway.ErrUnavailable, re)
	}
	if gateway.Retryable(err) || errors.Is(err, gateway.ErrAuth) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: token exchange: %w", gateway.ErrUnavailable, err)
}
