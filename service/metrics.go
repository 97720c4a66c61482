package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var timeoutsMetric = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pose",
	Subsystem: "service",
	Name:      "challenge_timeouts_total",
	Help:      "Number of challenges left unanswered past their deadline",
})
