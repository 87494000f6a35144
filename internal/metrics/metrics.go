// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics declares the controller's own Prometheus instrumentation,
// registered against the controller-runtime metrics registry and served by
// [internal/httpserver].
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Namespace is the namespace component of the fully qualified metric name.
const Namespace = "pvc_autoscaler"

var (
	// ResizeEvaluatedTotal counts every PVC considered for resizing during
	// an iteration, whether or not it triggered.
	ResizeEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_evaluated_total",
			Help:      "Total number of PVCs evaluated for resizing",
		},
		[]string{"namespace", "persistentvolumeclaim"},
	)

	// ResizeAttemptedTotal counts every time a patch to expand a PVC is
	// issued to the API server.
	ResizeAttemptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_attempted_total",
			Help:      "Total number of resize patches attempted",
		},
		[]string{"namespace", "persistentvolumeclaim"},
	)

	// ResizeSuccessfulTotal counts every resize patch that the API server
	// accepted.
	ResizeSuccessfulTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_successful_total",
			Help:      "Total number of successful resize patches",
		},
		[]string{"namespace", "persistentvolumeclaim"},
	)

	// ResizeFailureTotal counts every resize patch that the API server
	// rejected or that otherwise errored.
	ResizeFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_failure_total",
			Help:      "Total number of failed resize patches",
		},
		[]string{"namespace", "persistentvolumeclaim", "reason"},
	)

	// IterationFailedTotal counts iterations aborted before any PVC could
	// be evaluated (e.g. MetricsUnavailable, ClusterUnavailable).
	IterationFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "iteration_failed_total",
			Help:      "Total number of iterations aborted before evaluation",
		},
	)

	// IterationOverrunTotal counts iterations whose processing took longer
	// than the configured interval.
	IterationOverrunTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "iteration_overrun_total",
			Help:      "Total number of iterations that took longer than the configured interval",
		},
	)

	// NumValidPVCs is a gauge of how many PVCs were seen (joined with a
	// metric observation) in the most recent iteration.
	NumValidPVCs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_valid_pvcs",
			Help:      "Number of PVCs observed in the most recent iteration",
		},
	)

	// NumPVCsAboveThreshold is a gauge of how many PVCs met or exceeded
	// their effective threshold in the most recent iteration.
	NumPVCsAboveThreshold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_pvcs_above_threshold",
			Help:      "Number of PVCs at or above their scale-above-percent threshold",
		},
	)

	// NumPVCsBelowThreshold is a gauge of how many PVCs were below their
	// effective threshold in the most recent iteration.
	NumPVCsBelowThreshold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_pvcs_below_threshold",
			Help:      "Number of PVCs below their scale-above-percent threshold",
		},
	)

	// NumUnmeasured is a gauge of how many live PVCs had no metric
	// observation in the most recent iteration.
	NumUnmeasured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_unmeasured",
			Help:      "Number of PVCs with no metric observation in the most recent iteration",
		},
	)

	// ReleaseInfo is a constant-1 info metric carrying the build version.
	ReleaseInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "release_info",
			Help:      "Build information, value is always 1",
		},
		[]string{"version", "commit"},
	)

	// SettingsInfo is a constant-1 info metric carrying the effective
	// global configuration for this process.
	SettingsInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "settings_info",
			Help:      "Effective global configuration, value is always 1",
		},
		[]string{"scale_above_percent", "scale_after_intervals", "dry_run"},
	)
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		ResizeEvaluatedTotal,
		ResizeAttemptedTotal,
		ResizeSuccessfulTotal,
		ResizeFailureTotal,
		IterationFailedTotal,
		IterationOverrunTotal,
		NumValidPVCs,
		NumPVCsAboveThreshold,
		NumPVCsBelowThreshold,
		NumUnmeasured,
		ReleaseInfo,
		SettingsInfo,
	)
}
