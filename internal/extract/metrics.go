package extract

import "github.com/prometheus/client_golang/prometheus"

var extractCandidates = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mailpulse_extract_candidates_total",
	Help: "Verification code candidates returned by the extractor, by tier.",
}, []string{"tier"})

func init() {
	prometheus.MustRegister(extractCandidates)
}
