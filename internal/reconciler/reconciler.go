// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package reconciler implements the periodic control loop that joins
// metric observations with live PVC state, advances per-PVC hysteresis
// counters, and orchestrates in-place volume expansions. It runs a single
// self-contained pass with no informer/watch cache: every iteration lists
// the cluster and the metrics backend fresh.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/cluster"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/common"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/config"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/metrics"
	metricssource "github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/notifier"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/policy"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/sizing"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/state"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Kubernetes Event reasons emitted against a PVC.
const (
	EventResizeTriggered       = "VolumeResizeTriggered"
	EventResizeSucceeded       = "VolumeResizeSucceeded"
	EventResizeFailed          = "VolumeResizeFailed"
	EventAtMaxSize             = "VolumeAtMaxSize"
	EventStorageClassNotExpand = "StorageClassNotExpandable"
)

// ErrMetricsUnavailable wraps a failure to fetch metric observations;
// aborts the iteration, retried next interval.
var ErrMetricsUnavailable = errors.New("metrics backend unavailable")

// ErrClusterUnavailable wraps a failure to list candidate PVCs; aborts the
// iteration, retried next interval.
var ErrClusterUnavailable = errors.New("cluster api unavailable")

// Reconciler composes the metrics source, cluster adapter, policy
// resolver, and sizing calculator into one reconciliation iteration.
type Reconciler struct {
	metricsSource metricssource.Source
	cluster       *cluster.Adapter
	notifier      *notifier.Notifier
	config        config.GlobalConfig
}

// Option is a function which configures the [Reconciler].
type Option func(r *Reconciler)

// New creates a new [Reconciler] and configures it with the given options.
func New(opts ...Option) (*Reconciler, error) {
	r := &Reconciler{}
	for _, opt := range opts {
		opt(r)
	}

	if r.metricsSource == nil {
		return nil, common.ErrNoMetrics
	}
	if r.cluster == nil {
		return nil, common.ErrNoClient
	}
	if r.notifier == nil {
		r.notifier = notifier.New()
	}

	return r, nil
}

// WithMetricsSource configures the [Reconciler] to use the given metrics source.
func WithMetricsSource(src metricssource.Source) Option {
	return func(r *Reconciler) { r.metricsSource = src }
}

// WithCluster configures the [Reconciler] to use the given cluster adapter.
func WithCluster(c *cluster.Adapter) Option {
	return func(r *Reconciler) { r.cluster = c }
}

// WithNotifier configures the [Reconciler] to use the given notifier.
func WithNotifier(n *notifier.Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithConfig configures the [Reconciler] with the given global configuration.
func WithConfig(cfg config.GlobalConfig) Option {
	return func(r *Reconciler) { r.config = cfg }
}

// RunIteration executes exactly one pass of the reconciliation loop. A
// non-nil return means the whole iteration aborted before any PVC could be
// evaluated; per-PVC failures never propagate up, they are logged and
// reflected in metrics/events instead.
func (r *Reconciler) RunIteration(ctx context.Context) error {
	logger := log.FromContext(ctx, "controller", common.ControllerName)
	start := time.Now()

	observations, err := r.metricsSource.Get(ctx)
	if err != nil {
		metrics.IterationFailedTotal.Inc()
		return fmt.Errorf("%w: %s", ErrMetricsUnavailable, err)
	}

	candidates, err := r.cluster.ListCandidates(ctx)
	if err != nil {
		metrics.IterationFailedTotal.Inc()
		return fmt.Errorf("%w: %s", ErrClusterUnavailable, err)
	}

	var numValid, numAbove, numBelow, numUnmeasured int

	for _, cand := range candidates {
		pvc := cand.PVC
		volInfo, measured := observations[cluster.Key(pvc)]

		if err := r.cluster.StampObservability(ctx, pvc, volInfo, r.config.IntervalTime); err != nil {
			logger.Error(err, "failed to stamp observability annotations",
				"namespace", pvc.Namespace, "name", pvc.Name)
		}

		if !measured {
			numUnmeasured++
			continue
		}
		numValid++

		pvcLogger := logger.WithValues("namespace", pvc.Namespace, "name", pvc.Name)
		above := r.evaluateCandidate(log.IntoContext(ctx, pvcLogger), cand, volInfo)
		if above {
			numAbove++
		} else {
			numBelow++
		}
	}

	metrics.NumValidPVCs.Set(float64(numValid))
	metrics.NumPVCsAboveThreshold.Set(float64(numAbove))
	metrics.NumPVCsBelowThreshold.Set(float64(numBelow))
	metrics.NumUnmeasured.Set(float64(numUnmeasured))

	if time.Since(start) > r.config.IntervalTime {
		metrics.IterationOverrunTotal.Inc()
	}

	return nil
}

// evaluateCandidate runs the full per-PVC hysteresis and resize decision
// for a single measured PVC and reports whether it was at or above its
// effective threshold.
func (r *Reconciler) evaluateCandidate(ctx context.Context, cand cluster.Candidate, volInfo *metricssource.VolumeInfo) bool {
	logger := log.FromContext(ctx)
	pvc := cand.PVC

	requestedBytes := pvc.Spec.Resources.Requests.Storage().Value()

	pol, err := policy.Resolve(ctx, r.config, pvc.Annotations, requestedBytes)
	if err != nil {
		logger.Info("skipping persistentvolumeclaim with an invalid effective policy", "reason", err.Error())
		return false
	}

	metrics.ResizeEvaluatedTotal.WithLabelValues(pvc.Namespace, pvc.Name).Inc()

	durable := state.Read(pvc.Annotations)
	triggered := volInfo.Triggered(float64(pol.ScaleAbovePercent))

	if !triggered {
		if durable.Counter != 0 {
			r.patchCounter(ctx, pvc, durable, 0)
		}
		return false
	}

	candidateFree := pol.Ignore || !cand.Expandable
	if candidateFree {
		if !cand.Expandable && durable.CooldownElapsed(time.Now(), r.cooldown(pol)) {
			r.cluster.EmitEvent(pvc, corev1.EventTypeWarning, EventStorageClassNotExpand,
				"storage class %q does not support volume expansion", cluster.StorageClassName(pvc))
			r.patchStamp(ctx, pvc, time.Now(), 0)
		} else if durable.Counter != 0 {
			r.patchCounter(ctx, pvc, durable, 0)
		}
		return true
	}

	newCounter := durable.Counter + 1
	if newCounter < pol.ScaleAfterIntervals {
		r.patchCounter(ctx, pvc, durable, newCounter)
		return true
	}

	cooldown := r.cooldown(pol)
	if !durable.CooldownElapsed(time.Now(), cooldown) {
		// Clamp to after-1 so exactly one more triggering observation
		// after cooldown elapses fires the resize, instead of leaving the
		// counter wherever it happened to land while deferred.
		r.patchCounter(ctx, pvc, durable, pol.ScaleAfterIntervals-1)
		return true
	}

	target := sizing.Target(requestedBytes, int64(pol.ScaleUpPercent), pol.ScaleUpMinIncrement, pol.ScaleUpMaxIncrement, pol.ScaleUpMaxSize)
	if sizing.AtCeiling(requestedBytes, target) {
		r.cluster.EmitEvent(pvc, corev1.EventTypeWarning, EventAtMaxSize,
			"volume has reached its configured maximum size of %d bytes", pol.ScaleUpMaxSize)
		r.patchStamp(ctx, pvc, time.Now(), 0)
		return true
	}

	r.cluster.EmitEvent(pvc, corev1.EventTypeNormal, EventResizeTriggered,
		"resizing from %d to %d bytes", requestedBytes, target)
	metrics.ResizeAttemptedTotal.WithLabelValues(pvc.Namespace, pvc.Name).Inc()

	newAnnotations := state.Write(nil, state.Durable{LastResizedAt: time.Now(), Counter: 0})
	err = r.cluster.ResizeWithState(ctx, pvc, *resource.NewQuantity(target, resource.BinarySI), newAnnotations)
	if err != nil {
		metrics.ResizeFailureTotal.WithLabelValues(pvc.Namespace, pvc.Name, classifyFailure(err)).Inc()
		r.cluster.EmitEvent(pvc, corev1.EventTypeWarning, EventResizeFailed, "resize failed: %s", err.Error())
		r.notifier.Notify(ctx, fmt.Sprintf("failed to resize %s/%s: %s", pvc.Namespace, pvc.Name, err))
		logger.Error(err, "failed to resize persistentvolumeclaim")
		return true
	}

	metrics.ResizeSuccessfulTotal.WithLabelValues(pvc.Namespace, pvc.Name).Inc()
	r.cluster.EmitEvent(pvc, corev1.EventTypeNormal, EventResizeSucceeded,
		"resized from %d to %d bytes", requestedBytes, target)
	r.notifier.Notify(ctx, fmt.Sprintf("resized %s/%s from %d to %d bytes", pvc.Namespace, pvc.Name, requestedBytes, target))

	return true
}

// cooldown returns the effective policy cooldown as a [time.Duration].
func (r *Reconciler) cooldown(pol policy.ScalingPolicy) time.Duration {
	return time.Duration(pol.ScaleCooldownTime) * time.Second
}

// patchCounter writes an updated counter, leaving last_resize_time
// untouched, via a separate annotations-only patch.
func (r *Reconciler) patchCounter(ctx context.Context, pvc *corev1.PersistentVolumeClaim, durable state.Durable, newCounter int) {
	next := state.Durable{LastResizedAt: durable.LastResizedAt, Counter: newCounter}
	if err := r.cluster.PatchAnnotations(ctx, pvc, state.Write(nil, next)); err != nil {
		log.FromContext(ctx).Error(err, "failed to patch hysteresis counter annotation")
	}
}

// patchStamp writes an updated last_resize_time and counter pair, used to
// rate-limit repeated at-max/capability warnings to once per cooldown.
func (r *Reconciler) patchStamp(ctx context.Context, pvc *corev1.PersistentVolumeClaim, when time.Time, newCounter int) {
	next := state.Durable{LastResizedAt: when, Counter: newCounter}
	if err := r.cluster.PatchAnnotations(ctx, pvc, state.Write(nil, next)); err != nil {
		log.FromContext(ctx).Error(err, "failed to patch durable state annotations")
	}
}

// classifyFailure derives a low-cardinality label value for the
// resize_failure_total metric without leaking raw API server messages
// into a Prometheus label.
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "api_error"
	}
}
