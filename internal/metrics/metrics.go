package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IssuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_issuance_total",
			Help: "Card issuance attempts by result",
		},
		[]string{"result"}, // issued|duplicate|rejected|mirror_failed
	)

	FundingIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_intents_total",
			Help: "Funding intents reaching a terminal state, by rail and status",
		},
		[]string{"rail", "status"},
	)

	RailPollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rail_poll_duration_seconds",
			Help:    "Latency of a single rail status poll",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rail"},
	)

	LedgerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger applications by type and result",
		},
		[]string{"type", "result"},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(IssuanceTotal)
	prometheus.MustRegister(FundingIntentsTotal)
	prometheus.MustRegister(RailPollDuration)
	prometheus.MustRegister(LedgerOperationsTotal)
}

// ObservePoll records one rail poll round-trip.
func ObservePoll(rail string, d time.Duration) {
	RailPollDuration.WithLabelValues(rail).Observe(d.Seconds())
}
