package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var batchSizeMetric = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pose",
	Subsystem: "batch",
	Name:      "receipts",
	Help:      "Number of receipts committed per batch",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
})
