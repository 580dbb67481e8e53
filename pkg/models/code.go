package models

import "time"

// CodeTier is the confidence class of the rule that produced a candidate.
type CodeTier string

const (
	TierExplicit  CodeTier = "A" // keyword immediately followed by digits
	TierHeuristic CodeTier = "B" // bracketed subject digits or nearby keyword
	TierBare      CodeTier = "C" // isolated digit run
)

// CodeCandidate is a scored verification code found in a message.
type CodeCandidate struct {
	Code       string    `json:"code"`
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
	Tier       CodeTier  `json:"tier"`
	Context    string    `json:"context"`
	Score      int       `json:"score"`
}
