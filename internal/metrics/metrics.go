package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransfersSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_settled_total",
			Help: "Settled transfers by terminal status",
		},
		[]string{"status"}, // COMPLETED|FAILED|CANCELLED
	)

	SagaTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otc_saga_transitions_total",
			Help: "Trade settlement stage transitions",
		},
		[]string{"stage"},
	)
	SagaRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otc_saga_rollbacks_total",
			Help: "Total compensating rollbacks executed",
		},
	)

	OutboxAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_delivery_attempts_total",
			Help: "Outbox delivery attempts by outcome",
		},
		[]string{"outcome"}, // success|failed
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

// Handler for the /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(TransfersSettled)
	prometheus.MustRegister(SagaTransitions)
	prometheus.MustRegister(SagaRollbacks)
	prometheus.MustRegister(OutboxAttempts)
	prometheus.MustRegister(WorkerQueueDepth)
}
