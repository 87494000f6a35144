// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package state reads and writes the two annotations that make up a PVC's
// durable hysteresis state: the two values are the only state the
// controller has that survives a restart, and both live as plain strings
// on the PVC object itself — there is no external store.
//
// Callers must re-read this state from the object fresh on every iteration;
// nothing in this package may be cached in-process.
package state

import (
	"strconv"
	"time"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/annotation"
)

// Durable is the decoded form of a PVC's durable annotations.
type Durable struct {
	// LastResizedAt is the zero time if the PVC has never been resized.
	LastResizedAt time.Time

	// Counter is the number of consecutive triggering observations seen
	// so far.
	Counter int
}

// Read decodes the durable state out of a raw annotation map. Malformed
// values are treated the same as absent ones: an unparseable counter reads
// as 0, an unparseable timestamp reads as the zero time. This mirrors the
// Policy Resolver's own "fall back silently" rule, since a corrupted
// annotation must not wedge the controller.
func Read(annotations map[string]string) Durable {
	var d Durable

	if raw, ok := annotations[annotation.LastResizedAt]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			d.LastResizedAt = t
		}
	}

	if raw, ok := annotations[annotation.ScaleAboveCounter]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			d.Counter = n
		}
	}

	return d
}

// Write encodes d into the given annotation map, creating the map if nil,
// and returns it.
func Write(annotations map[string]string, d Durable) map[string]string {
	if annotations == nil {
		annotations = make(map[string]string)
	}

	if !d.LastResizedAt.IsZero() {
		annotations[annotation.LastResizedAt] = d.LastResizedAt.UTC().Format(time.RFC3339)
	}
	annotations[annotation.ScaleAboveCounter] = strconv.Itoa(d.Counter)

	return annotations
}

// CooldownElapsed reports whether cooldown has elapsed since LastResizedAt,
// as of now. A zero LastResizedAt (never resized) always satisfies cooldown.
func (d Durable) CooldownElapsed(now time.Time, cooldown time.Duration) bool {
	if d.LastResizedAt.IsZero() {
		return true
	}
	return now.Sub(d.LastResizedAt) >= cooldown
}
