// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package source_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"k8s.io/utils/ptr"

	metricssource "github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"
)

var _ = Describe("VolumeInfo", func() {
	Context("Triggered", func() {
		It("fires when bytes used percent meets threshold", func() {
			vi := &metricssource.VolumeInfo{BytesUsedPercent: ptr.To(85.0)}
			Expect(vi.Triggered(80)).To(BeTrue())
		})

		It("fires when inodes used percent meets threshold even if bytes do not", func() {
			vi := &metricssource.VolumeInfo{
				BytesUsedPercent:  ptr.To(10.0),
				InodesUsedPercent: ptr.To(95.0),
			}
			Expect(vi.Triggered(80)).To(BeTrue())
		})

		It("does not fire below threshold", func() {
			vi := &metricssource.VolumeInfo{BytesUsedPercent: ptr.To(70.0)}
			Expect(vi.Triggered(80)).To(BeFalse())
		})

		It("does not fire when both dimensions are absent", func() {
			vi := &metricssource.VolumeInfo{}
			Expect(vi.Triggered(80)).To(BeFalse())
		})

		It("does not fire on a nil observation", func() {
			var vi *metricssource.VolumeInfo
			Expect(vi.Triggered(80)).To(BeFalse())
		})
	})
})
