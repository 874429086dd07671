package governor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	denyReasonCircuit  = "circuit_open"
	denyReasonInterval = "min_interval"
)

var (
	governorDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_governor_denied_total",
		Help: "Requests refused by the request governor, by reason",
	}, []string{"reason"})

	governorCircuitOpensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_governor_circuit_opens_total",
		Help: "Times the failure circuit breaker opened",
	})
)
