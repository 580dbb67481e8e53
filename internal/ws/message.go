package ws

import (
	"time"

	"github.com/HerbHall/mailpulse/internal/event"
)

// Message is the envelope for all WebSocket messages. Type mirrors the bus
// event type; Data carries the event payload unchanged.
type Message struct {
	Type      event.Type `json:"type"`
	AccountID string     `json:"account_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Data      any        `json:"data,omitempty"`
}

func messageFromEvent(e event.Event) Message {
	return Message{
		Type:      e.Type,
		AccountID: e.AccountID,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Data:      e.Payload,
	}
}
