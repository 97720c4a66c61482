package receipt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verifiedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "receipt",
		Name:      "verified_total",
		Help:      "Number of receipts that passed verification",
	}, []string{"type"})

	rejectedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "receipt",
		Name:      "rejected_total",
		Help:      "Number of receipts rejected, by reason",
	}, []string{"reason"})
)
