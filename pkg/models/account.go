package models

import "time"

// Account is a monitored mailbox as known to the account source.
// The refresh token is long-lived; access tokens are never stored here.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	ClientID     string    `json:"client_id"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccountCredential pairs an account's refresh credential with its current
// short-lived access credential.
type AccountCredential struct {
	AccountID    string
	ClientID     string
	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
}

// Valid reports whether the access credential is usable at t with the given
// safety margin.
func (c AccountCredential) Valid(t time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && t.Add(margin).Before(c.ExpiresAt)
}
