package event

import (
	"context"
	"time"
)

// Type identifies the kind of event on the bus.
type Type string

const (
	TypeSessionStarted Type = "session-started"
	TypeSessionStopped Type = "session-stopped"
	TypeCodeFound      Type = "code-found"
	TypeCheckError     Type = "check-error"
	TypeMetricsUpdated Type = "metrics-updated"
)

// Event is a typed message on the bus. Payload type depends on Type.
type Event struct {
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler processes events delivered by the bus.
type Handler func(ctx context.Context, event Event)

// Filter scopes a subscription. Empty fields match anything, so the zero
// Filter is a wildcard.
type Filter struct {
	AccountID string
	SessionID string
	Types     []Type
}

// Matches reports whether e falls inside the filter's scope.
func (f Filter) Matches(e Event) bool {
	if f.AccountID != "" && f.AccountID != e.AccountID {
		return false
	}
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}
