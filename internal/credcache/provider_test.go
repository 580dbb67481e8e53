package credcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	rotated  []string
}

func (m *memAccounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) UpdateRefreshToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id].RefreshToken = token
	m.rotated = append(m.rotated, token)
	return nil
}

type stubExchanger struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	ttl     time.Duration
	rotated string
}

func (s *stubExchanger) Exchange(_ context.Context, refresh, _ string) (models.AccountCredential, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return models.AccountCredential{}, s.err
	}
	return models.AccountCredential{
		AccessToken:  "access-for-" + refresh,
		ExpiresAt:    time.Now().Add(s.ttl),
		RefreshToken: s.rotated,
	}, nil
}

func newTestProvider(ex *stubExchanger) (*Provider, *memAccounts) {
	accounts := &memAccounts{accounts: map[string]*models.Account{
		"acct-1": {ID: "acct-1", ClientID: "client", RefreshToken: "r1"},
	}}
	cache := New[models.AccountCredential](CacheConfig{}, zap.NewNop())
	return NewProvider(cache, accounts, ex, time.Minute, zap.NewNop()), accounts
}

func TestProvider_CachesAccessToken(t *testing.T) {
	ex := &stubExchanger{ttl: time.Hour}
	p, _ := newTestProvider(ex)
	ctx := context.Background()

	for range 3 {
		tok, err := p.AccessToken(ctx, "acct-1")
		if err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
		if tok != "access-for-r1" {
			t.Errorf("token = %q, want %q", tok, "access-for-r1")
		}
	}
	if n := ex.calls.Load(); n != 1 {
		t.Errorf("Exchange called %d times, want 1", n)
	}
}

func TestProvider_CoalescesConcurrentRefresh(t *testing.T) {
	ex := &stubExchanger{ttl: time.Hour, delay: 50 * time.Millisecond}
	p, _ := newTestProvider(ex)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.AccessToken(context.Background(), "acct-1"); err != nil {
				t.Errorf("AccessToken: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := ex.calls.Load(); n != 1 {
		t.Errorf("Exchange called %d times, want 1", n)
	}
}

func TestProvider_RotatesRefreshToken(t *testing.T) {
	ex := &stubExchanger{ttl: time.Hour, rotated: "r2"}
	p, accounts := newTestProvider(ex)

	if _, err := p.AccessToken(context.Background(), "acct-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if len(accounts.rotated) != 1 || accounts.rotated[0] != "r2" {
		t.Errorf("rotated = %v, want [r2]", accounts.rotated)
	}
}

func TestProvider_AuthError(t *testing.T) {
	ex := &stubExchanger{err: gateway.ErrAuth}
	p, _ := newTestProvider(ex)

	_, err := p.AccessToken(context.Background(), "acct-1")
	if !errors.Is(err, gateway.ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
}

func TestProvider_UnknownAccount(t *testing.T) {
	p, _ := newTestProvider(&stubExchanger{ttl: time.Hour})

	_, err := p.AccessToken(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("err = %v, want ErrUnknownAccount", err)
	}
}

func TestProvider_Invalidate(t *testing.T) {
	ex := &stubExchanger{ttl: time.Hour}
	p, _ := newTestProvider(ex)
	ctx := context.Background()

	if _, err := p.AccessToken(ctx, "acct-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	p.Invalidate("acct-1")
	if _, err := p.AccessToken(ctx, "acct-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if n := ex.calls.Load(); n != 2 {
		t.Errorf("Exchange called %d times, want 2", n)
	}
}

func TestProvider_ShortLivedNotCached(t *testing.T) {
	// Lifetime shorter than the expiry margin is returned but not cached.
	ex := &stubExchanger{ttl: 30 * time.Second}
	p, _ := newTestProvider(ex)
	ctx := context.Background()

	for range 2 {
		if _, err := p.AccessToken(ctx, "acct-1"); err != nil {
			t.Fatalf("AccessToken: %v", err)
		}
	}
	if n := ex.calls.Load(); n != 2 {
		t.Errorf("Exchange called %d times, want 2", n)
	}
}
