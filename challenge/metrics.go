package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "challenge",
		Name:      "issued_total",
		Help:      "Number of challenges issued",
	}, []string{"type"})

	rejectedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "challenge",
		Name:      "rejected_total",
		Help:      "Number of challenge issuances refused by the quota",
	}, []string{"type", "reason"})
)
