// Copyright © 2025 CloudLens Authors, All Rights reserved

// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devgate_requests_total",
			Help: "Total number of requests forwarded per route rule",
		},
		[]string{"route", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devgate_request_duration_seconds",
			Help:    "Time spent forwarding requests per route rule",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	routesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devgate_routes_active",
			Help: "Number of route rules in the live configuration",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(routesActive)
}

// ObserveRequest records one forwarded request against its route label.
func ObserveRequest(routePrefix string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(routePrefix, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(routePrefix).Observe(elapsed.Seconds())
}

// SetActiveRoutes tracks the rule count of the configuration currently serving.
func SetActiveRoutes(n int) {
	routesActive.Set(float64(n))
}
