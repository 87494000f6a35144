// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package cluster mediates every interaction the Reconciler has with the
// Kubernetes API: listing candidate PVCs joined against their
// StorageClass's expansion capability, patching a PVC's requested size or
// annotations, and emitting events — built around a direct (uncached)
// client instead of a manager-backed one.
package cluster

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/annotation"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/common"
	metricssource "github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"

	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// UnknownUtilization is the annotation value recorded when a PVC's metric
// observation does not cover a given dimension this iteration.
const UnknownUtilization = "unknown"

// Candidate is one PVC observed during a list, joined with the expansion
// capability of its StorageClass. A PVC whose storage class does not allow
// volume expansion is a candidate-free PVC: still observed and counted, but
// never resized.
type Candidate struct {
	PVC        *corev1.PersistentVolumeClaim
	Expandable bool
}

// Adapter is the cluster-facing half of the reconciler, built on a direct
// (non-cached) controller-runtime client so the controller can run a
// single self-contained list-every-interval loop without an informer cache.
type Adapter struct {
	client        client.Client
	eventRecorder record.EventRecorder
	dryRun        bool
}

// Option is a function which configures the [Adapter].
type Option func(a *Adapter)

// New creates a new [Adapter] and configures it with the given options.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		return nil, common.ErrNoClient
	}
	if a.eventRecorder == nil {
		return nil, common.ErrNoEventRecorder
	}

	return a, nil
}

// WithClient configures the [Adapter] with the given client.
func WithClient(c client.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithEventRecorder configures the [Adapter] to use the given event
// recorder.
func WithEventRecorder(recorder record.EventRecorder) Option {
	return func(a *Adapter) { a.eventRecorder = recorder }
}

// WithDryRun configures the [Adapter] to skip every call that would mutate
// cluster state. A skipped resize is logged; skipped annotation patches and
// events are not.
func WithDryRun(dryRun bool) Option {
	return func(a *Adapter) { a.dryRun = dryRun }
}

// ListCandidates lists every PersistentVolumeClaim in the cluster and joins
// it against its StorageClass's expansion capability. It performs exactly
// one PVC list and one StorageClass list per call, with no informer/watch
// cache involved.
func (a *Adapter) ListCandidates(ctx context.Context) ([]Candidate, error) {
	var scList storagev1.StorageClassList
	if err := a.client.List(ctx, &scList); err != nil {
		return nil, fmt.Errorf("listing storage classes: %w", err)
	}

	expandable := make(map[string]bool, len(scList.Items))
	for _, sc := range scList.Items {
		expandable[sc.Name] = ptr.Deref(sc.AllowVolumeExpansion, false)
	}

	var pvcList corev1.PersistentVolumeClaimList
	if err := a.client.List(ctx, &pvcList); err != nil {
		return nil, fmt.Errorf("listing persistentvolumeclaims: %w", err)
	}

	candidates := make([]Candidate, 0, len(pvcList.Items))
	for i := range pvcList.Items {
		pvc := &pvcList.Items[i]
		scName := ptr.Deref(pvc.Spec.StorageClassName, "")
		candidates = append(candidates, Candidate{
			PVC:        pvc,
			Expandable: scName != "" && expandable[scName],
		})
	}

	return candidates, nil
}

// ResizeWithState atomically patches both the requested storage size and
// the durable state annotations in a single strategic-merge patch, so an
// observer never sees a resized PVC with stale hysteresis state or vice
// versa.
func (a *Adapter) ResizeWithState(ctx context.Context, pvc *corev1.PersistentVolumeClaim, newSize resource.Quantity, annotations map[string]string) error {
	if a.dryRun {
		log.FromContext(ctx).Info("dry-run: skipping resize",
			"namespace", pvc.Namespace, "name", pvc.Name, "newSize", newSize.String())
		return nil
	}

	patch := client.StrategicMergeFrom(pvc.DeepCopy())
	if pvc.Spec.Resources.Requests == nil {
		pvc.Spec.Resources.Requests = corev1.ResourceList{}
	}
	pvc.Spec.Resources.Requests[corev1.ResourceStorage] = newSize

	if pvc.Annotations == nil {
		pvc.Annotations = make(map[string]string, len(annotations))
	}
	for k, v := range annotations {
		pvc.Annotations[k] = v
	}

	err := a.client.Patch(ctx, pvc, patch)
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// PatchAnnotations merges the given annotations onto the PVC.
func (a *Adapter) PatchAnnotations(ctx context.Context, pvc *corev1.PersistentVolumeClaim, annotations map[string]string) error {
	if a.dryRun {
		return nil
	}

	patch := client.MergeFrom(pvc.DeepCopy())
	if pvc.Annotations == nil {
		pvc.Annotations = make(map[string]string, len(annotations))
	}
	for k, v := range annotations {
		pvc.Annotations[k] = v
	}

	err := a.client.Patch(ctx, pvc, patch)
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// StampObservability records the last/next check time and the last observed
// utilization percentages as annotations, so `kubectl describe`/`get -o
// yaml` shows live state even though these values never feed back into any
// resize decision. volInfo is nil when the PVC went unmeasured this
// iteration, in which case the utilization annotations read "unknown"
// rather than being left stale.
func (a *Adapter) StampObservability(ctx context.Context, pvc *corev1.PersistentVolumeClaim, volInfo *metricssource.VolumeInfo, interval time.Duration) error {
	if a.dryRun {
		return nil
	}

	now := time.Now()
	usedSpace := UnknownUtilization
	usedInodes := UnknownUtilization
	if volInfo != nil {
		if volInfo.BytesUsedPercent != nil {
			usedSpace = fmt.Sprintf("%.2f%%", *volInfo.BytesUsedPercent)
		}
		if volInfo.InodesUsedPercent != nil {
			usedInodes = fmt.Sprintf("%.2f%%", *volInfo.InodesUsedPercent)
		}
	}

	return a.PatchAnnotations(ctx, pvc, map[string]string{
		annotation.LastCheck:            strconv.FormatInt(now.Unix(), 10),
		annotation.NextCheck:            strconv.FormatInt(now.Add(interval).Unix(), 10),
		annotation.UsedSpacePercentage:  usedSpace,
		annotation.UsedInodesPercentage: usedInodes,
	})
}

// EmitEvent records a Kubernetes event against the PVC. It is a thin
// wrapper so callers never need to import client-go/tools/record directly.
func (a *Adapter) EmitEvent(pvc *corev1.PersistentVolumeClaim, eventType, reason, messageFmt string, args ...interface{}) {
	if a.dryRun {
		return
	}
	a.eventRecorder.Eventf(pvc, eventType, reason, messageFmt, args...)
}

// StorageClassName returns the effective storage class name of the PVC, or
// the zero value if unset.
func StorageClassName(pvc *corev1.PersistentVolumeClaim) string {
	return ptr.Deref(pvc.Spec.StorageClassName, "")
}

// Key returns the [types.NamespacedName] identity of the PVC.
func Key(pvc *corev1.PersistentVolumeClaim) types.NamespacedName {
	return client.ObjectKeyFromObject(pvc)
}
