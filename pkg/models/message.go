package models

import "time"

// Message is a retrieved mailbox message reduced to the fields the
// extractor needs.
type Message struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	BodyText   string    `json:"body_text"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
}
