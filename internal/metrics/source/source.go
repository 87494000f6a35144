// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package source defines the canonical metric observations the Reconciler
// joins against live PVC state, and the interface any metrics backend must
// implement to provide them.
package source

import (
	"context"

	"k8s.io/apimachinery/pkg/types"
)

const (
	// BytesUsedPercentQuery is the PromQL query for the percentage of bytes
	// used in a volume.
	BytesUsedPercentQuery = `max by (namespace, persistentvolumeclaim) ` +
		`(100 - (kubelet_volume_stats_available_bytes{%s} / kubelet_volume_stats_capacity_bytes{%s}) * 100)`

	// InodesUsedPercentQuery is the PromQL query for the percentage of
	// inodes used in a volume.
	InodesUsedPercentQuery = `max by (namespace, persistentvolumeclaim) ` +
		`(100 - (kubelet_volume_stats_inodes_free{%s} / kubelet_volume_stats_inodes{%s}) * 100)`

	// CapacityBytesQuery is the PromQL query for a volume's total capacity
	// in bytes.
	CapacityBytesQuery = `max by (namespace, persistentvolumeclaim) (kubelet_volume_stats_capacity_bytes{%s})`
)

// VolumeInfo is one PVC's metric observation for an iteration. Any field
// may be nil, meaning the backend did not report it this iteration; a nil
// field is never the same thing as an observed zero.
type VolumeInfo struct {
	// BytesUsedPercent is the percentage of bytes used, in [0, 100].
	BytesUsedPercent *float64

	// InodesUsedPercent is the percentage of inodes used, in [0, 100].
	InodesUsedPercent *float64

	// CapacityBytes is the volume's total capacity, in bytes.
	CapacityBytes *int64
}

// Triggered reports whether either dimension of vi meets or exceeds
// thresholdPercent — either dimension can independently fire a resize. A
// nil dimension never triggers on its own.
func (vi *VolumeInfo) Triggered(thresholdPercent float64) bool {
	if vi == nil {
		return false
	}
	if vi.BytesUsedPercent != nil && *vi.BytesUsedPercent >= thresholdPercent {
		return true
	}
	if vi.InodesUsedPercent != nil && *vi.InodesUsedPercent >= thresholdPercent {
		return true
	}
	return false
}

// Metrics is a collection of per-PVC observations for one iteration, keyed
// by [types.NamespacedName].
type Metrics map[types.NamespacedName]*VolumeInfo

// Source represents a source for retrieving metric observations about
// persistent volume claims, e.g. a Prometheus-compatible backend.
type Source interface {
	// Get runs the canonical queries and returns one observation per PVC
	// identity found in any of the result sets. It returns an error if any
	// underlying query fails; partial results are never returned on error.
	Get(ctx context.Context) (Metrics, error)
}
