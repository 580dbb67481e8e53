package monitor

import (
	"time"

	"github.com/HerbHall/mailpulse/pkg/models"
)

// SessionStartedPayload accompanies event.SessionStarted.
type SessionStartedPayload struct {
	Settings  models.SessionSettings `json:"settings"`
	StartedAt time.Time              `json:"started_at"`
}

// SessionStoppedPayload accompanies event.SessionStopped.
type SessionStoppedPayload struct {
	Reason   string                 `json:"reason"`
	Counters models.SessionCounters `json:"counters"`
	Elapsed  time.Duration          `json:"elapsed"`
}

// CodeFoundPayload accompanies event.CodeFound.
type CodeFoundPayload struct {
	Candidate models.CodeCandidate `json:"candidate"`
}

// CheckErrorPayload accompanies event.CheckError.
type CheckErrorPayload struct {
	Error        string        `json:"error"`
	Retryable    bool          `json:"retryable"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
	FailedChecks int           `json:"failed_checks"`
}

// MetricsPayload accompanies event.MetricsUpdated.
type MetricsPayload struct {
	Counters     models.SessionCounters `json:"counters"`
	NewCodes     int                    `json:"new_codes"`
	QueueLength  int                    `json:"queue_length"`
	ActiveChecks int                    `json:"active_checks"`
}
