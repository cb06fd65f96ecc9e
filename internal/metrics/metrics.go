// Package metrics exposes Prometheus instrumentation for the detection
// pipeline: ingestion volume, threshold crossings, suppression, and alert
// lifecycle transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinelwatch"

var (
	// EventsIngested counts events accepted by the engine, by source.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of events accepted by the detection engine",
		},
		[]string{"source"},
	)

	// EventsRejected counts events failing the structural precondition.
	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected before evaluation",
		},
	)

	// EventsDuplicate counts exact-duplicate events dropped by the dedupe cache.
	EventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Total number of duplicate events dropped",
		},
	)

	// CrossingsDetected counts threshold crossings, admitted or not.
	CrossingsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossings_detected_total",
			Help:      "Total number of threshold crossings detected",
		},
		[]string{"rule"},
	)

	// CrossingsSuppressed counts crossings dropped by the cooldown guard.
	CrossingsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossings_suppressed_total",
			Help:      "Total number of crossings suppressed by cooldown",
		},
		[]string{"rule"},
	)

	// AlertsCreated counts alerts created, by rule and severity.
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Total number of alerts created",
		},
		[]string{"rule", "severity"},
	)

	// AlertTransitions counts lifecycle transitions (acknowledge, resolve).
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Total number of alert lifecycle transitions",
		},
		[]string{"transition"},
	)
)
