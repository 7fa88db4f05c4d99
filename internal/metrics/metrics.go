package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TaskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wadisp_task_transitions_total",
			Help: "Task status transitions by target status",
		},
		[]string{"status"},
	)

	Promoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wadisp_promoted_total",
			Help: "Tasks promoted from pending to queued by the scheduler",
		},
	)

	EnqueueFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wadisp_enqueue_failures_total",
			Help: "Failed hand-offs to the work queue by stage",
		},
		[]string{"stage"}, // publish|delayed|promote|retry
	)

	DeliverySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wadisp_delivery_seconds",
			Help:    "Latency of delivery calls by channel and outcome",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel", "outcome"}, // whatsapp|sms , success|transport|remote
	)

	BroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wadisp_broadcast_failures_total",
			Help: "Status broadcasts that could not be published",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		TaskTransitions,
		Promoted,
		EnqueueFailures,
		DeliverySeconds,
		BroadcastFailures,
	)
}
