package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/mailpulse/internal/extract"
	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
)

// Checker performs one poll of an account and returns the candidates
// received at or after since.
type Checker interface {
	Check(ctx context.Context, accountID string, since time.Time) ([]models.CodeCandidate, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, accountID string, since time.Time) ([]models.CodeCandidate, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, accountID string, since time.Time) ([]models.CodeCandidate, error) {
	return f(ctx, accountID, since)
}

// CredentialProvider hands out access credentials for accounts.
type CredentialProvider interface {
	AccessToken(ctx context.Context, accountID string) (string, error)
	Invalidate(accountID string)
}

// MessageFetcher retrieves recent messages for an account.
type MessageFetcher interface {
	Fetch(ctx context.Context, accountID, accessToken string, maxMessages int) ([]models.Message, error)
}

// CodeExtractor ranks verification code candidates in messages.
type CodeExtractor interface {
	Extract(msgs []models.Message, opts extract.Options) []models.CodeCandidate
}

// Compile-time interface guard.
var _ Checker = (*MailChecker)(nil)

// MailChecker is the production Checker: credential, fetch, extract.
type MailChecker struct {
	creds       CredentialProvider
	mail        MessageFetcher
	extractor   CodeExtractor
	maxMessages int
	logger      *zap.Logger
}

// NewMailChecker wires a checker from its collaborators.
func NewMailChecker(creds CredentialProvider, mail MessageFetcher, extractor CodeExtractor, maxMessages int, logger *zap.Logger) *MailChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailChecker{
		creds:       creds,
		mail:        mail,
		extractor:   extractor,
		maxMessages: maxMessages,
		logger:      logger,
	}
}

// Check fetches the account's newest messages and extracts codes. A
// rejected access credential is dropped and the fetch retried once with a
// freshly exchanged one before the rejection is reported.
func (c *MailChecker) Check(ctx context.Context, accountID string, since time.Time) ([]models.CodeCandidate, error) {
	msgs, err := c.fetch(ctx, accountID)
	if errors.Is(err, gateway.ErrAuth) && !errors.Is(err, errCredential) {
		c.logger.Debug("access credential rejected, refreshing",
			zap.String("account_id", accountID),
		)
		c.creds.Invalidate(accountID)
		msgs, err = c.fetch(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}

	cands := c.extractor.Extract(msgs, extract.Options{})
	if since.IsZero() {
		return cands, nil
	}
	out := cands[:0]
	for _, cand := range cands {
		if !cand.ReceivedAt.Before(since) {
			out = append(out, cand)
		}
	}
	return out, nil
}

// errCredential marks failures to obtain a credential, as opposed to the
// mail API rejecting one. Those are not worth a second exchange.
var errCredential = errors.New("obtain access credential")

func (c *MailChecker) fetch(ctx context.Context, accountID string) ([]models.Message, error) {
	token, err := c.creds.AccessToken(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCredential, err)
	}
	return c.mail.Fetch(ctx, accountID, token, c.maxMessages)
}
