package credcache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpulse_credcache_lookups_total",
			Help: "Credential cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)
	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpulse_credcache_evictions_total",
			Help: "Credential cache removals by tier and cause.",
		},
		[]string{"tier", "cause"},
	)
)

func init() {
	prometheus.MustRegister(cacheLookups)
	prometheus.MustRegister(cacheEvictions)
}
