// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/mailpulse/pkg/models"
)

// NewMessage returns a Message with sensible defaults, suitable for test
// fixtures. Options override individual fields.
func NewMessage(opts ...func(*models.Message)) models.Message {
	m := models.Message{
		ID:         uuid.New().String(),
		Subject:    "Your sign-in code",
		BodyText:   "Use verification code 482913 to sign in.",
		Sender:     "no-reply@example.com",
		ReceivedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithSubject sets the message subject.
func WithSubject(s string) func(*models.Message) {
	return func(m *models.Message) { m.Subject = s }
}

// WithBody sets the message body text.
func WithBody(s string) func(*models.Message) {
	return func(m *models.Message) { m.BodyText = s }
}

// WithSender sets the message sender.
func WithSender(s string) func(*models.Message) {
	return func(m *models.Message) { m.Sender = s }
}

// WithReceivedAt sets the message receive time.
func WithReceivedAt(t time.Time) func(*models.Message) {
	return func(m *models.Message) { m.ReceivedAt = t }
}

// NewAccount returns an Account with sensible defaults.
func NewAccount(opts ...func(*models.Account)) models.Account {
	now := time.Now().UTC()
	a := models.Account{
		ID:           "acct-" + uuid.New().String()[:8],
		Email:        "user@example.com",
		ClientID:     "test-client",
		RefreshToken: "refresh-" + uuid.New().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithAccountID sets the account ID.
func WithAccountID(id string) func(*models.Account) {
	return func(a *models.Account) { a.ID = id }
}

// WithRefreshToken sets the account's refresh credential.
func WithRefreshToken(rt string) func(*models.Account) {
	return func(a *models.Account) { a.RefreshToken = rt }
}

// NewSettings returns fast session settings for scheduler tests.
func NewSettings(opts ...func(*models.SessionSettings)) models.SessionSettings {
	s := models.SessionSettings{
		CheckInterval:     10 * time.Millisecond,
		Duration:          5 * time.Second,
		MaxRetries:        3,
		Priority:          1,
		AutoStopOnNewCode: true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithInterval sets the check interval.
func WithInterval(d time.Duration) func(*models.SessionSettings) {
	return func(s *models.SessionSettings) { s.CheckInterval = d }
}

// WithDuration sets the session duration.
func WithDuration(d time.Duration) func(*models.SessionSettings) {
	return func(s *models.SessionSettings) { s.Duration = d }
}

// WithPriority sets the session priority.
func WithPriority(p int) func(*models.SessionSettings) {
	return func(s *models.SessionSettings) { s.Priority = p }
}

// WithAutoStop sets AutoStopOnNewCode.
func WithAutoStop(on bool) func(*models.SessionSettings) {
	return func(s *models.SessionSettings) { s.AutoStopOnNewCode = on }
}
