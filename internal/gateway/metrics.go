package gateway

import "github.com/prometheus/client_golang/prometheus"

// noEndpoint labels calls rejected before an endpoint was chosen.
const noEndpoint = "none"

var (
	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpulse_gateway_calls_total",
			Help: "Upstream calls by service, endpoint and outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailpulse_gateway_call_duration_seconds",
			Help:    "Upstream call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	gatewayBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailpulse_gateway_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open).",
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(gatewayCalls)
	prometheus.MustRegister(gatewayCallDuration)
	prometheus.MustRegister(gatewayBreakerState)
}
