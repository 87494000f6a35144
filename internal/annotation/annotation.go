// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package annotation defines the well-known annotation keys the controller
// reads from and writes to PersistentVolumeClaim objects.
package annotation

const (
	// Prefix is the prefix used by all annotations this controller consumes
	// or produces.
	Prefix = "volume.autoscaler.kubernetes.io/"

	// Ignore opts a PVC out of resizing entirely, even if it is otherwise
	// triggering. The PVC remains visible to observability metrics.
	Ignore = Prefix + "ignore"

	// ScaleAbovePercent is the per-PVC override of the trigger threshold.
	ScaleAbovePercent = Prefix + "scale-above-percent"

	// ScaleAfterIntervals is the per-PVC override of the number of
	// consecutive triggering observations required before a resize fires.
	ScaleAfterIntervals = Prefix + "scale-after-intervals"

	// ScaleUpPercent is the per-PVC override of the growth rate.
	ScaleUpPercent = Prefix + "scale-up-percent"

	// ScaleUpMinIncrement is the per-PVC override of the minimum growth
	// increment, in bytes.
	ScaleUpMinIncrement = Prefix + "scale-up-min-increment"

	// ScaleUpMaxIncrement is the per-PVC override of the maximum growth
	// increment, in bytes.
	ScaleUpMaxIncrement = Prefix + "scale-up-max-increment"

	// ScaleUpMaxSize is the per-PVC override of the absolute size ceiling,
	// in bytes.
	ScaleUpMaxSize = Prefix + "scale-up-max-size"

	// ScaleCooldownTime is the per-PVC override of the minimum number of
	// seconds between two successful resizes.
	ScaleCooldownTime = Prefix + "scale-cooldown-time"

	// LastResizedAt is the durable annotation recording the RFC3339 UTC
	// timestamp of the last successful resize, or of the last at-max or
	// not-expandable warning, which reuse it to rate-limit themselves. It
	// is the sole source of truth for cooldown enforcement, and survives
	// restarts.
	LastResizedAt = Prefix + "last-resized-at"

	// ScaleAboveCounter is the durable annotation recording the number of
	// consecutive triggering observations seen so far. It survives
	// restarts and is reset to zero whenever an observation falls below
	// threshold or a resize succeeds.
	ScaleAboveCounter = Prefix + "scale-above-counter"

	// LastCheck is an observability-only annotation recording the Unix
	// timestamp of the most recent iteration that considered this PVC.
	LastCheck = Prefix + "last-check"

	// NextCheck is an observability-only annotation recording the Unix
	// timestamp at which the next iteration is expected to run.
	NextCheck = Prefix + "next-check"

	// UsedSpacePercentage is an observability-only annotation recording the
	// last observed used-space percentage.
	UsedSpacePercentage = Prefix + "used-space"

	// UsedInodesPercentage is an observability-only annotation recording
	// the last observed used-inodes percentage.
	UsedInodesPercentage = Prefix + "used-inodes"
)
