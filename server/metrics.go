package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pose",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Number of HTTP requests served, by route and status code",
}, []string{"route", "code"})
