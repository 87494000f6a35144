// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package cluster_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/annotation"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/cluster"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/common"
	metricssource "github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"

	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	Expect(corev1.AddToScheme(scheme)).To(Succeed())
	Expect(storagev1.AddToScheme(scheme)).To(Succeed())
	return scheme
}

var _ = Describe("Adapter", func() {
	Context("New", func() {
		It("should fail without a client", func() {
			_, err := cluster.New(cluster.WithEventRecorder(record.NewFakeRecorder(1)))
			Expect(err).To(MatchError(common.ErrNoClient))
		})

		It("should fail without an event recorder", func() {
			c := fake.NewClientBuilder().WithScheme(newScheme()).Build()
			_, err := cluster.New(cluster.WithClient(c))
			Expect(err).To(MatchError(common.ErrNoEventRecorder))
		})
	})

	Context("ListCandidates", func() {
		It("should join PVCs against their storage class's expansion capability", func() {
			expandableSC := &storagev1.StorageClass{
				ObjectMeta:           metav1.ObjectMeta{Name: "expandable"},
				AllowVolumeExpansion: ptr.To(true),
			}
			fixedSC := &storagev1.StorageClass{
				ObjectMeta:           metav1.ObjectMeta{Name: "fixed"},
				AllowVolumeExpansion: ptr.To(false),
			}
			pvcA := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
				Spec:       corev1.PersistentVolumeClaimSpec{StorageClassName: ptr.To("expandable")},
			}
			pvcB := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "default"},
				Spec:       corev1.PersistentVolumeClaimSpec{StorageClassName: ptr.To("fixed")},
			}

			c := fake.NewClientBuilder().
				WithScheme(newScheme()).
				WithObjects(expandableSC, fixedSC, pvcA, pvcB).
				Build()

			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
			)
			Expect(err).NotTo(HaveOccurred())

			candidates, err := a.ListCandidates(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(2))

			byName := make(map[string]bool)
			for _, cand := range candidates {
				byName[cand.PVC.Name] = cand.Expandable
			}
			Expect(byName["a"]).To(BeTrue())
			Expect(byName["b"]).To(BeFalse())
		})

		It("should treat a PVC with no storage class as not expandable", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pvc).Build()

			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
			)
			Expect(err).NotTo(HaveOccurred())

			candidates, err := a.ListCandidates(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].Expandable).To(BeFalse())
		})
	})

	Context("ResizeWithState", func() {
		It("should update the requested storage size and the state annotations together", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
				Spec: corev1.PersistentVolumeClaimSpec{
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse("1Gi"),
						},
					},
				},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pvc).Build()
			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
			)
			Expect(err).NotTo(HaveOccurred())

			state := map[string]string{annotation.LastResizedAt: "2024-01-01T00:00:00Z"}
			Expect(a.ResizeWithState(context.Background(), pvc, resource.MustParse("2Gi"), state)).To(Succeed())

			var updated corev1.PersistentVolumeClaim
			Expect(c.Get(context.Background(), cluster.Key(pvc), &updated)).To(Succeed())
			Expect(updated.Spec.Resources.Requests.Storage().String()).To(Equal("2Gi"))
			Expect(updated.Annotations[annotation.LastResizedAt]).To(Equal("2024-01-01T00:00:00Z"))
		})

		It("should no-op in dry-run mode", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
				Spec: corev1.PersistentVolumeClaimSpec{
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceStorage: resource.MustParse("1Gi"),
						},
					},
				},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pvc).Build()
			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
				cluster.WithDryRun(true),
			)
			Expect(err).NotTo(HaveOccurred())
			state := map[string]string{annotation.LastResizedAt: "2024-01-01T00:00:00Z"}
			Expect(a.ResizeWithState(context.Background(), pvc, resource.MustParse("2Gi"), state)).To(Succeed())

			var updated corev1.PersistentVolumeClaim
			Expect(c.Get(context.Background(), cluster.Key(pvc), &updated)).To(Succeed())
			Expect(updated.Spec.Resources.Requests.Storage().String()).To(Equal("1Gi"))
			Expect(updated.Annotations).To(BeEmpty())
		})

		It("should tolerate a PVC deleted mid-iteration", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "ghost", Namespace: "default"},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).Build()
			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
			)
			Expect(err).NotTo(HaveOccurred())
			state := map[string]string{annotation.LastResizedAt: "2024-01-01T00:00:00Z"}
			Expect(a.ResizeWithState(context.Background(), pvc, resource.MustParse("2Gi"), state)).To(Succeed())
		})
	})

	Context("StampObservability", func() {
		It("should record the observed utilization percentages", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pvc).Build()
			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
			)
			Expect(err).NotTo(HaveOccurred())

			volInfo := &metricssource.VolumeInfo{
				BytesUsedPercent:  ptr.To(42.5),
				InodesUsedPercent: ptr.To(10.0),
			}
			Expect(a.StampObservability(context.Background(), pvc, volInfo, time.Minute)).To(Succeed())

			var updated corev1.PersistentVolumeClaim
			Expect(c.Get(context.Background(), cluster.Key(pvc), &updated)).To(Succeed())
			Expect(updated.Annotations[annotation.UsedSpacePercentage]).To(Equal("42.50%"))
			Expect(updated.Annotations[annotation.UsedInodesPercentage]).To(Equal("10.00%"))
			Expect(updated.Annotations[annotation.LastCheck]).NotTo(BeEmpty())
			Expect(updated.Annotations[annotation.NextCheck]).NotTo(BeEmpty())
		})

		It("should record unknown utilization when the PVC went unmeasured", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pvc).Build()
			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(a.StampObservability(context.Background(), pvc, nil, time.Minute)).To(Succeed())

			var updated corev1.PersistentVolumeClaim
			Expect(c.Get(context.Background(), cluster.Key(pvc), &updated)).To(Succeed())
			Expect(updated.Annotations[annotation.UsedSpacePercentage]).To(Equal(cluster.UnknownUtilization))
			Expect(updated.Annotations[annotation.UsedInodesPercentage]).To(Equal(cluster.UnknownUtilization))
		})

		It("should no-op in dry-run mode", func() {
			pvc := &corev1.PersistentVolumeClaim{
				ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"},
			}
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pvc).Build()
			a, err := cluster.New(
				cluster.WithClient(c),
				cluster.WithEventRecorder(record.NewFakeRecorder(10)),
				cluster.WithDryRun(true),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(a.StampObservability(context.Background(), pvc, nil, time.Minute)).To(Succeed())

			var updated corev1.PersistentVolumeClaim
			Expect(c.Get(context.Background(), cluster.Key(pvc), &updated)).To(Succeed())
			Expect(updated.Annotations).To(BeEmpty())
		})
	})
})
