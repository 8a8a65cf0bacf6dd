package services

import "github.com/prometheus/client_golang/prometheus"

var idempotencyRejections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "idempotency_rejections_total",
		Help: "Guarded operations rejected because their key was already taken.",
	},
)

func init() {
	prometheus.MustRegister(idempotencyRejections)
}
