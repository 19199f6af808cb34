// Package metrics holds the daemon's domain instrumentation: gauges updated
// by the GPU manager, the scheduler, and session lifecycle. HTTP-level series
// live with the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avatard"

var (
	// GPUSlotsInUse counts allocated task slots across all devices.
	GPUSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gpu_slots_in_use",
		Help:      "GPU task slots currently allocated across all devices.",
	})

	// QueueDepth tracks admitted tasks waiting in each priority tier.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Admitted tasks waiting in each priority tier.",
	}, []string{"tier"})

	// ActiveSessions counts live streaming sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Streaming sessions currently active.",
	})

	// TasksInflight counts tasks admitted and not yet delivered.
	TasksInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_inflight",
		Help:      "Tasks admitted and not yet delivered to their waiters.",
	})
)
