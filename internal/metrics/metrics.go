package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors for the audit core. Registered on the default
// registry; the API server exposes them on /metrics.
var (
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_consumed_total",
			Help: "Analysis events consumed from the bus, by subject.",
		},
		[]string{"subject"},
	)

	MalformedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_malformed_total",
			Help: "Events dropped as unparsable and routed to the DLQ subject.",
		},
		[]string{"subject"},
	)

	BundlesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_bundles_expired_total",
			Help: "Correlation bundles evicted before completion.",
		},
	)

	BundlesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_bundles_active",
			Help: "Correlation bundles currently waiting for inputs.",
		},
	)

	AuditsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_completed_total",
			Help: "Audits persisted and published, by compliance status.",
		},
		[]string{"status"},
	)

	AuditsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_failed_total",
			Help: "Audit attempts abandoned after exhausting persistence retries.",
		},
	)

	ViolationsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_violations_detected_total",
			Help: "Compliance violations detected, by severity.",
		},
		[]string{"severity"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_processing_seconds",
			Help:    "Wall time from completed bundle to published verdict.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
