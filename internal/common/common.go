// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package common holds the handful of errors and constants shared across
// the controller's packages.
package common

import "errors"

// ErrNoMetrics is returned when no metric observations can be obtained: by a
// metrics source that fails to fetch them, or by a component constructed
// without a metrics source.
var ErrNoMetrics = errors.New("no metrics available")

// ErrNoEventRecorder is returned when a component was constructed without an
// event recorder.
var ErrNoEventRecorder = errors.New("no event recorder provided")

// ErrNoClient is returned when a component was constructed without a
// Kubernetes API client.
var ErrNoClient = errors.New("no client provided")

// ControllerName is the name used as the event source component and as the
// controller value in log lines.
const ControllerName = "pvc_autoscaler"
