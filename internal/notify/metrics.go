package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	// notificationsTotal counts resolved channel outcomes.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification outcomes by channel and status.",
		},
		[]string{"channel", "status"},
	)

	pushTokensErased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_tokens_erased_total",
			Help: "Push tokens removed after the provider reported them permanently invalid.",
		},
	)

	broadcastSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_sends_total",
			Help: "Broadcast email sends by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(notificationsTotal, pushTokensErased, broadcastSends)
}
