// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package fake provides in-memory [metricssource.Source] implementations
// for use in unit tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/common"
	metricssource "github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source"

	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
)

// AlwaysFailing is a [metricssource.Source] implementation which always fails to get metrics.
type AlwaysFailing struct{}

var _ metricssource.Source = &AlwaysFailing{}

// Get implements the [metricssource.Source] interface
func (s *AlwaysFailing) Get(ctx context.Context) (metricssource.Metrics, error) {
	return nil, common.ErrNoMetrics
}

// Item represents a fake volume registered with the [Fake] source.
type Item struct {
	// NamespacedName identifies the test PVC this item stands in for.
	NamespacedName types.NamespacedName

	// CapacityBytes is the volume's total capacity, in bytes.
	CapacityBytes int64

	// UsedBytesPercent is the percentage of bytes used, in [0, 100].
	UsedBytesPercent float64

	// UsedInodesPercent is the percentage of inodes used, in [0, 100].
	UsedInodesPercent float64

	// FillBytesPercentIncrement is how much UsedBytesPercent grows on every
	// consume tick.
	FillBytesPercentIncrement float64

	// FillInodesPercentIncrement is how much UsedInodesPercent grows on
	// every consume tick.
	FillInodesPercentIncrement float64
}

// Fill simulates the volume filling up further, clamped to 100%.
func (i *Item) Fill() {
	i.UsedBytesPercent += i.FillBytesPercentIncrement
	if i.UsedBytesPercent > 100 {
		i.UsedBytesPercent = 100
	}

	i.UsedInodesPercent += i.FillInodesPercentIncrement
	if i.UsedInodesPercent > 100 {
		i.UsedInodesPercent = 100
	}
}

// Fake implements the [metricssource.Source] interface by providing a fake
// source of metrics, which can be used in unit tests.
type Fake struct {
	sync.Mutex

	// The "registry" of fake items
	items map[types.NamespacedName]*Item

	// interval specifies a periodic interval at which volumes "fill up".
	interval time.Duration
}

var _ metricssource.Source = &Fake{}

// Option is a function which configures the fake metrics source.
type Option func(f *Fake)

// New creates a new fake metrics source
func New(opts ...Option) *Fake {
	f := &Fake{
		items: make(map[types.NamespacedName]*Item),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// WithInterval configures the [Fake] metrics source to advance its fill
// level on every interval.
func WithInterval(i time.Duration) Option {
	return func(f *Fake) {
		f.interval = i
	}
}

// Register registers the given items with the [Fake] metrics source.
func (f *Fake) Register(items ...*Item) {
	f.Lock()
	defer f.Unlock()

	for _, item := range items {
		f.items[item.NamespacedName] = item
	}
}

// Start starts the fake source of metrics and blocks until the context is
// cancelled.
func (f *Fake) Start(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.fillItems()
		}
	}
}

// fillItems advances every registered item's fill level.
func (f *Fake) fillItems() {
	f.Lock()
	defer f.Unlock()
	for _, v := range f.items {
		v.Fill()
	}
}

// Get implements the [metricssource.Source] interface
func (f *Fake) Get(ctx context.Context) (metricssource.Metrics, error) {
	f.Lock()
	defer f.Unlock()

	result := make(metricssource.Metrics)
	for _, item := range f.items {
		result[item.NamespacedName] = &metricssource.VolumeInfo{
			BytesUsedPercent:  ptr.To(item.UsedBytesPercent),
			InodesUsedPercent: ptr.To(item.UsedInodesPercent),
			CapacityBytes:     ptr.To(item.CapacityBytes),
		}
	}

	return result, nil
}
