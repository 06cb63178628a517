// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RadarScans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runlens_radar_scans_total",
		Help: "Completed radar scan invocations.",
	})

	RadarScanSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runlens_radar_scan_skips_total",
		Help: "Scan invocations skipped because a scan was already running.",
	})

	RadarRunsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runlens_radar_runs_scanned_total",
		Help: "Runs scored by the radar scanner, by verdict.",
	}, []string{"passed"})

	RadarRunErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runlens_radar_run_errors_total",
		Help: "Runs whose evaluation failed and will be retried.",
	})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runlens_alert_transitions_total",
		Help: "Alert state transitions, by new state.",
	}, []string{"to"})

	EnrichedRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runlens_enriched_runs_total",
		Help: "Runs processed by the realtime enrichment job.",
	})
)
