// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package policy resolves the effective [ScalingPolicy] for a PVC by
// layering hard-coded defaults, global configuration, and per-PVC
// annotation overrides.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/annotation"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/config"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// maxScaleUpPercent bounds ScaleUpPercent so that the sizing calculator's
// currentBytes * (100 + percent) intermediate product stays below the
// 128-bit-product overflow threshold in [sizing.Target] for any currentBytes
// under about 180 PB. A grossly typo'd annotation (e.g. "200000000" for
// "20") is rejected here rather than reaching the arithmetic; a smaller slip
// such as "200" or "2000" is within the bound and accepted.
const maxScaleUpPercent = 10_000

// ErrBadThreshold is returned when ScaleAbovePercent falls outside [1, 99].
var ErrBadThreshold = errors.New("scale-above-percent must be within [1, 99]")

// ErrBadIntervals is returned when ScaleAfterIntervals is less than 1.
var ErrBadIntervals = errors.New("scale-after-intervals must be >= 1")

// ErrBadPercent is returned when ScaleUpPercent falls outside [0, maxScaleUpPercent].
var ErrBadPercent = fmt.Errorf("scale-up-percent must be within [0, %d]", maxScaleUpPercent)

// ErrBadIncrement is returned when ScaleUpMinIncrement is negative.
var ErrBadIncrement = errors.New("scale-up-min-increment must be >= 0")

// ErrMaxLessThanMinIncrement is returned when ScaleUpMaxIncrement is smaller
// than ScaleUpMinIncrement.
var ErrMaxLessThanMinIncrement = errors.New("scale-up-max-increment must be >= scale-up-min-increment")

// ScalingPolicy is the resolved, per-PVC set of parameters that govern
// whether and how a PVC is resized.
type ScalingPolicy struct {
	ScaleAbovePercent   int
	ScaleAfterIntervals int
	ScaleUpPercent      int
	ScaleUpMinIncrement int64
	ScaleUpMaxIncrement int64
	ScaleUpMaxSize      int64
	ScaleCooldownTime   int
	Ignore              bool
}

// Resolve computes the effective [ScalingPolicy] for a PVC given the
// cluster-wide [config.GlobalConfig] and the PVC's own annotations. It never
// fails on a bad annotation: parse errors on individual annotations are
// logged and the lower-precedence value (global config, then hard-coded
// default) is retained instead — a bad annotation on one PVC must not stop
// the whole cluster. It only returns an error when the fully-resolved
// policy violates a structural invariant (thresholds, ordering of
// increments) that no fallback can fix.
//
// requestedBytes is the PVC's current spec size, used only to decide
// whether ScaleUpMaxSize is below it. When it is, the PVC is treated as
// candidate-free for this iteration with a warning, since there is no
// headroom left to grow into.
func Resolve(ctx context.Context, global config.GlobalConfig, annotations map[string]string, requestedBytes int64) (ScalingPolicy, error) {
	p := ScalingPolicy{
		ScaleAbovePercent:   global.ScaleAbovePercent,
		ScaleAfterIntervals: global.ScaleAfterIntervals,
		ScaleUpPercent:      global.ScaleUpPercent,
		ScaleUpMinIncrement: global.ScaleUpMinIncrement,
		ScaleUpMaxIncrement: global.ScaleUpMaxIncrement,
		ScaleUpMaxSize:      global.ScaleUpMaxSize,
		ScaleCooldownTime:   global.ScaleCooldownTime,
		Ignore:              false,
	}

	logger := log.FromContext(ctx)

	p.ScaleAbovePercent = overrideInt(logger, annotations, annotation.ScaleAbovePercent, p.ScaleAbovePercent)
	p.ScaleAfterIntervals = overrideInt(logger, annotations, annotation.ScaleAfterIntervals, p.ScaleAfterIntervals)
	p.ScaleUpPercent = overrideInt(logger, annotations, annotation.ScaleUpPercent, p.ScaleUpPercent)
	p.ScaleUpMinIncrement = overrideInt64(logger, annotations, annotation.ScaleUpMinIncrement, p.ScaleUpMinIncrement)
	p.ScaleUpMaxIncrement = overrideInt64(logger, annotations, annotation.ScaleUpMaxIncrement, p.ScaleUpMaxIncrement)
	p.ScaleUpMaxSize = overrideInt64(logger, annotations, annotation.ScaleUpMaxSize, p.ScaleUpMaxSize)
	p.ScaleCooldownTime = overrideInt(logger, annotations, annotation.ScaleCooldownTime, p.ScaleCooldownTime)
	p.Ignore = overrideBool(logger, annotations, annotation.Ignore, p.Ignore)

	if err := validate(p); err != nil {
		return p, err
	}

	if p.ScaleUpMaxSize < requestedBytes {
		logger.Info("max size is below the PVC's current requested size, treating as candidate-free",
			"maxSize", p.ScaleUpMaxSize, "requestedBytes", requestedBytes)
		p.Ignore = true
	}

	return p, nil
}

func validate(p ScalingPolicy) error {
	if p.ScaleAbovePercent < 1 || p.ScaleAbovePercent > 99 {
		return ErrBadThreshold
	}
	if p.ScaleAfterIntervals < 1 {
		return ErrBadIntervals
	}
	if p.ScaleUpPercent < 0 || p.ScaleUpPercent > maxScaleUpPercent {
		return ErrBadPercent
	}
	if p.ScaleUpMinIncrement < 0 {
		return ErrBadIncrement
	}
	if p.ScaleUpMaxIncrement < p.ScaleUpMinIncrement {
		return ErrMaxLessThanMinIncrement
	}
	return nil
}

func overrideInt(logger logr.Logger, annotations map[string]string, key string, fallback int) int {
	raw, ok := annotations[key]
	if !ok {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		logger.Info("ignoring unparseable annotation", "key", key, "value", raw)
		return fallback
	}
	return val
}

func overrideInt64(logger logr.Logger, annotations map[string]string, key string, fallback int64) int64 {
	raw, ok := annotations[key]
	if !ok {
		return fallback
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Info("ignoring unparseable annotation", "key", key, "value", raw)
		return fallback
	}
	return val
}

func overrideBool(logger logr.Logger, annotations map[string]string, key string, fallback bool) bool {
	raw, ok := annotations[key]
	if !ok {
		return fallback
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Info("ignoring unparseable annotation", "key", key, "value", raw)
		return fallback
	}
	return val
}
