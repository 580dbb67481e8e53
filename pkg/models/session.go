package models

import "time"

// SessionStatus is the lifecycle state of a monitor session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionStopped SessionStatus = "stopped"
)

// Stop reasons recorded on sessions and in session-stopped events.
const (
	StopReasonDuration      = "duration elapsed"
	StopReasonCodeDelivered = "code delivered"
	StopReasonFailures      = "too many failures"
	StopReasonReauth        = "needs reauthorization"
	StopReasonTimeout       = "absolute timeout"
	StopReasonReplaced      = "replaced by new session"
	StopReasonManual        = "stopped by caller"
	StopReasonShutdown      = "scheduler shutdown"
)

// SessionSettings controls how one account is polled.
type SessionSettings struct {
	CheckInterval     time.Duration `json:"check_interval"`
	Duration          time.Duration `json:"duration"`
	MaxRetries        int           `json:"max_retries"`
	Priority          int           `json:"priority"`
	AutoStopOnNewCode bool          `json:"auto_stop_on_new_code"`
}

// DefaultSessionSettings returns the settings used when the caller does not
// override them.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		CheckInterval:     5 * time.Second,
		Duration:          60 * time.Second,
		MaxRetries:        3,
		Priority:          1,
		AutoStopOnNewCode: true,
	}
}

// SessionCounters tracks check outcomes. TotalChecks always equals
// SuccessfulChecks + FailedChecks once a check completes.
type SessionCounters struct {
	TotalChecks      int `json:"total_checks"`
	SuccessfulChecks int `json:"successful_checks"`
	FailedChecks     int `json:"failed_checks"`
	CodesFound       int `json:"codes_found"`
}

// MonitorSession is the lifecycle record of one account's polling.
type MonitorSession struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Settings    SessionSettings `json:"settings"`
	Counters    SessionCounters `json:"counters"`
	Status      SessionStatus   `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	LastCheckAt time.Time       `json:"last_check_at,omitzero"`
	LastCodeAt  time.Time       `json:"last_code_at,omitzero"`
	StoppedAt   time.Time       `json:"stopped_at,omitzero"`
	StopReason  string          `json:"stop_reason,omitempty"`
}
