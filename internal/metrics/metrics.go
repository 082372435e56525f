// Package metrics declares the Prometheus instruments for scans, detections,
// alerts and actions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "catalog_monitor"

var (
	// ScansTotal counts finished scans by provider and outcome
	// (completed, unchanged, failed, disabled, skipped).
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans finished, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one claimed scan",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// ReleasesDetected counts first detections by initial status.
	ReleasesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_detected_total",
			Help:      "Releases detected for the first time, by provider and initial status",
		},
		[]string{"provider", "status"},
	)

	// AlertsTotal counts alert lifecycle events (enqueued, sent, failed, cancelled, recovered).
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert lifecycle events by outcome",
		},
		[]string{"outcome"},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Creator actions by action and result",
		},
		[]string{"action", "result"},
	)

	StaleRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_recovered_total",
			Help:      "Rows reset by recovery sweeps, by kind (scan, alert)",
		},
		[]string{"kind"},
	)

	DisabledScans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disabled_scans",
			Help:      "Scan states currently disabled",
		},
	)

	ProviderBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_breaker_state",
			Help:      "Provider circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)
)
