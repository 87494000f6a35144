// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package sizing computes the target size a PersistentVolumeClaim should be
// resized to, given its current size and an effective [policy.ScalingPolicy].
// It is a pure function package: no I/O, no clock, no randomness.
package sizing

import (
	"math"
	"math/bits"
)

// Target computes the new requested size, in bytes, for a PVC currently
// requesting currentBytes, under the given policy parameters.
//
// The algorithm:
//  1. raw = currentBytes * (1 + scaleUpPercent/100), floor-divided.
//  2. delta = raw - currentBytes, clamped to [minIncrement, maxIncrement].
//  3. candidate = currentBytes + delta, capped at maxSize.
//
// If the result is <= currentBytes, the caller should treat the PVC as
// already at its ceiling; this function does not special-case that, it
// simply returns the (possibly unchanged) value.
func Target(currentBytes, scaleUpPercent, minIncrement, maxIncrement, maxSize int64) int64 {
	raw := floorMulDiv(currentBytes, 100+scaleUpPercent, 100)

	delta := raw - currentBytes
	if delta < minIncrement {
		delta = minIncrement
	}
	if delta > maxIncrement {
		delta = maxIncrement
	}

	candidate := currentBytes + delta
	if candidate > maxSize {
		candidate = maxSize
	}

	return candidate
}

// AtCeiling reports whether target represents a no-op relative to
// currentBytes — the PVC is at or beyond the ceiling permitted by its
// policy.
func AtCeiling(currentBytes, target int64) bool {
	return target <= currentBytes
}

// floorMulDiv computes floor(a * b / c) using a 128-bit intermediate
// product so that a*b cannot silently overflow int64. a, b and c are
// assumed non-negative. Policy validation is expected to keep b (the
// 100+scaleUpPercent growth factor) within a sane range, but an
// operator-supplied value arrives from an annotation, not a compile-time
// constant — rather than let [bits.Div64] panic when the product's high
// word reaches c, this saturates to [math.MaxInt64], which the caller's
// existing maxIncrement/maxSize clamps bring back down to a sane size.
func floorMulDiv(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}
