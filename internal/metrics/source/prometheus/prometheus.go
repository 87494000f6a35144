// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package prometheus implements [source.Source] against a
// Prometheus-compatible query API — any backend (vanilla Prometheus,
// Google Managed Prometheus, Thanos, Cortex, Mimir) that serves the
// standard `/api/v1/query` endpoint.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"
	"k8s.io/apimachinery/pkg/types"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrNoPrometheusAddress is an error, which is returned when no Prometheus
// endpoint address was configured.
var ErrNoPrometheusAddress = errors.New("no address specified")

// Prometheus is an implementation of [source.Source], which collects volume
// utilization observations from a Prometheus instance.
type Prometheus struct {
	address                string
	api                    v1.API
	httpClient             *http.Client
	roundTripper           http.RoundTripper
	labelMatch             string
	bytesUsedPercentQuery  string
	inodesUsedPercentQuery string
	capacityBytesQuery     string
}

var _ source.Source = &Prometheus{}

// Option is a function which can configure a [Prometheus] instance.
type Option func(p *Prometheus)

// WithAddress configures [Prometheus] to use the given address of the
// Prometheus instance.
func WithAddress(addr string) Option {
	return func(p *Prometheus) { p.address = addr }
}

// WithHTTPClient configures [Prometheus] to use the given [http.Client].
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prometheus) { p.httpClient = client }
}

// WithRoundTripper configures [Prometheus] to use the given
// [http.RoundTripper].
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(p *Prometheus) { p.roundTripper = rt }
}

// WithLabelMatch configures [Prometheus] to splice the given PromQL
// label-matcher fragment (e.g. `namespace="prod"`) into every query
// verbatim.
func WithLabelMatch(match string) Option {
	return func(p *Prometheus) { p.labelMatch = match }
}

// WithBytesUsedPercentQuery overrides the default bytes-used-percent query.
func WithBytesUsedPercentQuery(query string) Option {
	return func(p *Prometheus) { p.bytesUsedPercentQuery = query }
}

// WithInodesUsedPercentQuery overrides the default inodes-used-percent query.
func WithInodesUsedPercentQuery(query string) Option {
	return func(p *Prometheus) { p.inodesUsedPercentQuery = query }
}

// WithCapacityBytesQuery overrides the default capacity-bytes query.
func WithCapacityBytesQuery(query string) Option {
	return func(p *Prometheus) { p.capacityBytesQuery = query }
}

// New creates a new [Prometheus] metrics source and configures it with the
// given options.
func New(opts ...Option) (*Prometheus, error) {
	p := &Prometheus{}
	for _, opt := range opts {
		opt(p)
	}

	if p.address == "" {
		return nil, ErrNoPrometheusAddress
	}

	cfg := api.Config{
		Address:      p.address,
		Client:       p.httpClient,
		RoundTripper: p.roundTripper,
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	p.api = v1.NewAPI(client)

	if p.bytesUsedPercentQuery == "" {
		p.bytesUsedPercentQuery = fmt.Sprintf(source.BytesUsedPercentQuery, p.labelMatch, p.labelMatch)
	}
	if p.inodesUsedPercentQuery == "" {
		p.inodesUsedPercentQuery = fmt.Sprintf(source.InodesUsedPercentQuery, p.labelMatch, p.labelMatch)
	}
	if p.capacityBytesQuery == "" {
		p.capacityBytesQuery = fmt.Sprintf(source.CapacityBytesQuery, p.labelMatch)
	}

	return p, nil
}

// aggregation describes how duplicate rows for the same PVC identity within
// a single query's result vector are combined: the maximum value is
// retained for percent queries, the last-seen value for capacity.
type aggregation int

const (
	aggregateMax aggregation = iota
	aggregateLast
)

// assignFunc stores a row's value into the right field of a
// [source.VolumeInfo], after aggregation has resolved duplicates.
type assignFunc func(info *source.VolumeInfo, val float64)

// Get implements the [source.Source] interface. If any of the three queries
// fails, the whole call fails and no partial observation is returned.
func (p *Prometheus) Get(ctx context.Context) (source.Metrics, error) {
	result := make(source.Metrics)

	queries := []struct {
		query  string
		agg    aggregation
		assign assignFunc
	}{
		{p.bytesUsedPercentQuery, aggregateMax, func(info *source.VolumeInfo, val float64) {
			info.BytesUsedPercent = &val
		}},
		{p.inodesUsedPercentQuery, aggregateMax, func(info *source.VolumeInfo, val float64) {
			info.InodesUsedPercent = &val
		}},
		{p.capacityBytesQuery, aggregateLast, func(info *source.VolumeInfo, val float64) {
			bytes := int64(val)
			info.CapacityBytes = &bytes
		}},
	}

	for _, q := range queries {
		if err := p.runQuery(ctx, q.query, q.agg, result, q.assign); err != nil {
			return nil, fmt.Errorf("query %q failed: %w", q.query, err)
		}
	}

	return result, nil
}

// runQuery executes query against the Prometheus API and merges the result
// vector into metrics, resolving within-query duplicates per agg.
func (p *Prometheus) runQuery(ctx context.Context, query string, agg aggregation, metrics source.Metrics, assign assignFunc) error {
	result, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return err
	}

	logger := log.FromContext(ctx)
	for _, warning := range warnings {
		logger.Info(warning, "query", query)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return fmt.Errorf("expected model.Vector result, got %s", result.Type())
	}

	seen := make(map[types.NamespacedName]float64)
	for _, sample := range vector {
		namespaceVal, ok := sample.Metric["namespace"]
		if !ok {
			continue
		}
		nameVal, ok := sample.Metric["persistentvolumeclaim"]
		if !ok {
			continue
		}

		key := types.NamespacedName{
			Namespace: string(namespaceVal),
			Name:      string(nameVal),
		}
		val := float64(sample.Value)

		if prev, ok := seen[key]; ok {
			switch agg {
			case aggregateMax:
				if val <= prev {
					continue
				}
			case aggregateLast:
				// last-seen wins unconditionally
			}
		}
		seen[key] = val

		volInfo, exists := metrics[key]
		if !exists {
			volInfo = &source.VolumeInfo{}
			metrics[key] = volInfo
		}
		assign(volInfo, val)
	}

	return nil
}
