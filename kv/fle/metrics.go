package fle

import "github.com/prometheus/client_golang/prometheus"

var (
	insertCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "fle",
			Name:      "insert_total",
			Help:      "Counter of encrypted insert dispatches by result.",
		}, []string{"result"})

	yieldCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "fle",
			Name:      "session_yield_total",
			Help:      "Counter of session yields and unyields that released or reacquired a session.",
		}, []string{"type"})

	abortedExternallyCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinydoc",
			Subsystem: "fle",
			Name:      "unstash_aborted_externally_total",
			Help:      "Counter of unyields that found the transaction aborted by another operation.",
		})

	poolRunningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinydoc",
			Subsystem: "fle",
			Name:      "pool_running",
			Help:      "Whether the FLE CRUD worker pool is running.",
		})
)

func init() {
	prometheus.MustRegister(insertCounter)
	prometheus.MustRegister(yieldCounter)
	prometheus.MustRegister(abortedExternallyCounter)
	prometheus.MustRegister(poolRunningGauge)
}
