package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailpulse_monitor_sessions_active",
		Help: "Monitor sessions currently active.",
	})
	queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mailpulse_monitor_queue_length",
		Help: "Check jobs waiting for a concurrency slot.",
	})
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpulse_monitor_checks_total",
		Help: "Completed mailbox checks by outcome.",
	}, []string{"outcome"})
	codesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailpulse_monitor_codes_found_total",
		Help: "Verification codes published to subscribers.",
	})
	sessionsStopped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpulse_monitor_sessions_stopped_total",
		Help: "Stopped monitor sessions by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(sessionsActive, queueLength, checksTotal, codesFound, sessionsStopped)
}
