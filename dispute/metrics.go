package dispute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	penaltiesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "dispute",
		Name:      "penalties_total",
		Help:      "Number of penalties recorded, by reason",
	}, []string{"reason"})

	flagsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "dispute",
		Name:      "flags_total",
		Help:      "Number of dispute flags raised against batches, by type",
	}, []string{"type"})

	ejectedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pose",
		Subsystem: "dispute",
		Name:      "ejected_nodes_total",
		Help:      "Number of nodes permanently ejected",
	})
)
