package credcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownAccount is returned when the account source has no record of
// the requested account.
var ErrUnknownAccount = errors.New("unknown account")

// AccountSource supplies refresh credentials and persists rotated ones.
type AccountSource interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error
}

// Exchanger trades a refresh credential for a fresh access credential.
// ExpiresAt and an optionally rotated RefreshToken are set on the result.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken, clientID string) (models.AccountCredential, error)
}

// Provider hands out access credentials, serving them from the cache when
// possible and coalescing concurrent refreshes for the same account.
type Provider struct {
	cache     *Cache[models.AccountCredential]
	accounts  AccountSource
	exchanger Exchanger
	margin    time.Duration
	group     singleflight.Group
	now       func() time.Time
	logger    *zap.Logger
}

// NewProvider creates a credential provider backed by cache.
func NewProvider(cache *Cache[models.AccountCredential], accounts AccountSource, exchanger Exchanger, margin time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cache:     cache,
		accounts:  accounts,
		exchanger: exchanger,
		margin:    margin,
		now:       time.Now,
		logger:    logger,
	}
}

func accessKey(accountID string) string {
	return "access:" + accountID
}

// AccessToken returns a usable access credential for the account.
func (p *Provider) AccessToken(ctx context.Context, accountID string) (string, error) {
	if cred, ok := p.cache.Get(accessKey(accountID)); ok && cred.Valid(p.now(), 0) {
		return cred.AccessToken, nil
	}

	v, err, shared := p.group.Do(accountID, func() (any, error) {
		return p.refresh(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		p.logger.Debug("credential refresh shared", zap.String("account_id", accountID))
	}
	return v.(models.AccountCredential).AccessToken, nil
}

// Invalidate drops any cached credential for the account, forcing the next
// AccessToken call to exchange the refresh credential again.
func (p *Provider) Invalidate(accountID string) {
	p.cache.Delete(accessKey(accountID))
}

func (p *Provider) refresh(ctx context.Context, accountID string) (models.AccountCredential, error) {
	acct, err := p.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return models.AccountCredential{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if acct == nil {
		return models.AccountCredential{}, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	if acct.RefreshToken == "" {
		return models.AccountCredential{}, fmt.Errorf("account %s has no refresh credential: %w", accountID, gateway.ErrAuth)
	}

	cred, err := p.exchanger.Exchange(ctx, acct.RefreshToken, acct.ClientID)
	if err != nil {
		if errors.Is(err, gateway.ErrAuth) {
			p.Invalidate(accountID)
		}
		return models.AccountCredential{}, fmt.Errorf("exchange credential for %s: %w", accountID, err)
	}

	cred.AccountID = accountID
	cred.ClientID = acct.ClientID
	if cred.RefreshToken != "" && cred.RefreshToken != acct.RefreshToken {
		if err := p.accounts.UpdateRefreshToken(ctx, accountID, cred.RefreshToken); err != nil {
			p.logger.Warn("failed to persist rotated refresh credential",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		} else {
			p.logger.Info("refresh credential rotated", zap.String("account_id", accountID))
		}
	} else {
		cred.RefreshToken = acct.RefreshToken
	}

	ttl := cred.ExpiresAt.Sub(p.now()) - p.margin
	if ttl > 0 {
		p.cache.Set(accessKey(accountID), cred, ttl, WithWarmTTL(ttl))
	}

	p.logger.Debug("access credential refreshed",
		zap.String("account_id", accountID),
		zap.Time("expires_at", cred.ExpiresAt),
	)
	return cred, nil
}
