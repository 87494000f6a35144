// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	metricssource "github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"
)

// p, err := prometheus.New(
// 	prometheus.WithAddress("http://localhost:9090/"),
// 	prometheus.WithLabelMatch(`namespace="prod"`),
// 	prometheus.WithBytesUsedPercentQuery("some-query"),
// 	prometheus.WithInodesUsedPercentQuery("some-other-query"),
// 	prometheus.WithCapacityBytesQuery("yet-another-query"),
// 	prometheus.WithHTTPClient(http.DefaultClient),
// 	prometheus.WithRoundTripper(nil),
// )

var _ = Describe("Prometheus", func() {
	Context("Create new Prometheus source", func() {
		It("should fail because of missing address", func() {
			p, err := New()
			Expect(err).To(MatchError(ErrNoPrometheusAddress))
			Expect(p).To(BeNil())
		})

		It("should use default queries with an empty label match", func() {
			p, err := New(
				WithAddress("http://localhost:9090/"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())

			Expect(p.bytesUsedPercentQuery).To(Equal(
				fmt.Sprintf(metricssource.BytesUsedPercentQuery, "", ""),
			))
			Expect(p.inodesUsedPercentQuery).To(Equal(
				fmt.Sprintf(metricssource.InodesUsedPercentQuery, "", ""),
			))
			Expect(p.capacityBytesQuery).To(Equal(
				fmt.Sprintf(metricssource.CapacityBytesQuery, ""),
			))
		})

		It("should splice the label match into the default queries", func() {
			p, err := New(
				WithAddress("http://localhost:9090/"),
				WithLabelMatch(`namespace="prod"`),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())

			Expect(p.bytesUsedPercentQuery).To(Equal(
				fmt.Sprintf(metricssource.BytesUsedPercentQuery, `namespace="prod"`, `namespace="prod"`),
			))
		})

		It("should use custom queries", func() {
			p, err := New(
				WithAddress("http://localhost:9090/"),
				WithBytesUsedPercentQuery("my-bytes-query"),
				WithInodesUsedPercentQuery("my-inodes-query"),
				WithCapacityBytesQuery("my-capacity-query"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())

			Expect(p.bytesUsedPercentQuery).To(Equal("my-bytes-query"))
			Expect(p.inodesUsedPercentQuery).To(Equal("my-inodes-query"))
			Expect(p.capacityBytesQuery).To(Equal("my-capacity-query"))
		})

		It("should use custom http.Client", func() {
			c := &http.Client{Timeout: 1 * time.Second}

			p, err := New(
				WithAddress("http://localhost:9090/"),
				WithHTTPClient(c),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())
			Expect(p.httpClient).To(BeEquivalentTo(c))
		})

		It("should use custom http.RoundTripper", func() {
			t := &http.Transport{TLSHandshakeTimeout: 1 * time.Second}

			p, err := New(
				WithAddress("http://localhost:9090/"),
				WithRoundTripper(t),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())
			Expect(p.roundTripper).To(BeEquivalentTo(t))
		})
	})
})
