// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the controller's global configuration from the
// process environment, applying the defaults named in the external
// interface contract.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrNoProjectID is returned when GCP_PROJECT_ID is unset and no fallback
// could be resolved from the environment.
var ErrNoProjectID = errors.New("no project id configured or detectable")

// maxScaleUpPercent bounds ScaleUpPercent so that the sizing calculator's
// growth-factor multiplication stays below the overflow threshold of its
// 128-bit intermediate product for any PVC smaller than about 180 PB; larger
// sizes hit the calculator's own saturating guard instead.
const maxScaleUpPercent = 10_000

// GlobalConfig holds the process-wide settings layered beneath per-PVC
// annotation overrides by the Policy Resolver (see internal/policy).
type GlobalConfig struct {
	// ProjectID identifies the cloud project the cluster runs in. It must
	// be set for [FromEnviron] to succeed, but nothing else reads it and it
	// does not gate any reconciliation decision.
	ProjectID string

	// IntervalTime is the duration between the start of consecutive
	// reconciliation iterations.
	IntervalTime time.Duration

	// ScaleAbovePercent is the default trigger threshold, percent.
	ScaleAbovePercent int

	// ScaleAfterIntervals is the default number of consecutive triggering
	// observations required before a resize fires.
	ScaleAfterIntervals int

	// ScaleUpPercent is the default growth rate, percent.
	ScaleUpPercent int

	// ScaleUpMinIncrement is the default minimum growth increment, bytes.
	ScaleUpMinIncrement int64

	// ScaleUpMaxIncrement is the default maximum growth increment, bytes.
	ScaleUpMaxIncrement int64

	// ScaleUpMaxSize is the default absolute size ceiling, bytes.
	ScaleUpMaxSize int64

	// ScaleCooldownTime is the default minimum number of seconds between
	// two successful resizes of the same PVC.
	ScaleCooldownTime int

	// DryRun, when true, makes every patch to the Kubernetes API a no-op;
	// each skipped resize is logged.
	DryRun bool

	// Verbose enables debug-level logging.
	Verbose bool

	// PrometheusAddress is the base URL of the Prometheus-compatible
	// metrics backend.
	PrometheusAddress string

	// LabelMatch is an optional PromQL label-matcher fragment (e.g.
	// `namespace="prod"`) spliced verbatim into every metrics query.
	LabelMatch string

	// HTTPTimeout bounds every outbound call to the metrics backend and
	// the Kubernetes API.
	HTTPTimeout time.Duration

	// SlackWebhookURL is the incoming-webhook URL the Notifier posts to.
	// The Notifier is disabled when this is empty.
	SlackWebhookURL string

	// SlackChannel optionally overrides the webhook's default channel.
	SlackChannel string

	// SlackMessagePrefix is prepended to every notification message.
	SlackMessagePrefix string

	// SlackMessageSuffix is appended to every notification message.
	SlackMessageSuffix string

	// HTTPAddr is the bind address for the /alive, /ready and /metrics
	// endpoints.
	HTTPAddr string
}

// Defaults returns the hard-coded default values, layer one of the Policy
// Resolver beneath global environment configuration and per-PVC annotation
// overrides.
func Defaults() GlobalConfig {
	return GlobalConfig{
		IntervalTime:        60 * time.Second,
		ScaleAbovePercent:   80,
		ScaleAfterIntervals: 5,
		ScaleUpPercent:      20,
		ScaleUpMinIncrement: 1_000_000_000,
		ScaleUpMaxIncrement: 16_000_000_000_000,
		ScaleUpMaxSize:      16_000_000_000_000,
		ScaleCooldownTime:   22_200,
		DryRun:              false,
		Verbose:             false,
		PrometheusAddress:   "http://localhost:9090",
		LabelMatch:          "",
		HTTPTimeout:         15 * time.Second,
		HTTPAddr:            ":8000",
	}
}

// FromEnviron builds a [GlobalConfig] by layering environment variables over
// [Defaults]. It returns [ErrNoProjectID] if no project id is set, a wrapped
// parse error if an environment variable cannot be parsed to its typed form,
// and the [GlobalConfig.Validate] error if the result is invalid.
func FromEnviron() (GlobalConfig, error) {
	cfg := Defaults()

	cfg.ProjectID = firstNonEmpty(os.Getenv("GCP_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"))
	if cfg.ProjectID == "" {
		return cfg, ErrNoProjectID
	}

	var err error
	if cfg.IntervalTime, err = durationSecondsEnv("INTERVAL_TIME", cfg.IntervalTime); err != nil {
		return cfg, err
	}
	if cfg.ScaleAbovePercent, err = intEnv("SCALE_ABOVE_PERCENT", cfg.ScaleAbovePercent); err != nil {
		return cfg, err
	}
	if cfg.ScaleAfterIntervals, err = intEnv("SCALE_AFTER_INTERVALS", cfg.ScaleAfterIntervals); err != nil {
		return cfg, err
	}
	if cfg.ScaleUpPercent, err = intEnv("SCALE_UP_PERCENT", cfg.ScaleUpPercent); err != nil {
		return cfg, err
	}
	if cfg.ScaleUpMinIncrement, err = int64Env("SCALE_UP_MIN_INCREMENT", cfg.ScaleUpMinIncrement); err != nil {
		return cfg, err
	}
	if cfg.ScaleUpMaxIncrement, err = int64Env("SCALE_UP_MAX_INCREMENT", cfg.ScaleUpMaxIncrement); err != nil {
		return cfg, err
	}
	if cfg.ScaleUpMaxSize, err = int64Env("SCALE_UP_MAX_SIZE", cfg.ScaleUpMaxSize); err != nil {
		return cfg, err
	}
	if cfg.ScaleCooldownTime, err = intEnv("SCALE_COOLDOWN_TIME", cfg.ScaleCooldownTime); err != nil {
		return cfg, err
	}
	if cfg.DryRun, err = boolEnv("DRY_RUN", cfg.DryRun); err != nil {
		return cfg, err
	}
	if cfg.Verbose, err = boolEnv("VERBOSE", cfg.Verbose); err != nil {
		return cfg, err
	}
	if cfg.HTTPTimeout, err = durationSecondsEnv("HTTP_TIMEOUT", cfg.HTTPTimeout); err != nil {
		return cfg, err
	}

	cfg.PrometheusAddress = firstNonEmpty(os.Getenv("GMP_ADDRESS"), cfg.PrometheusAddress)
	cfg.LabelMatch = os.Getenv("GMP_LABEL_MATCH")
	cfg.SlackWebhookURL = os.Getenv("SLACK_WEBHOOK_URL")
	cfg.SlackChannel = os.Getenv("SLACK_CHANNEL")
	cfg.SlackMessagePrefix = os.Getenv("SLACK_MESSAGE_PREFIX")
	cfg.SlackMessageSuffix = os.Getenv("SLACK_MESSAGE_SUFFIX")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the invariants a [GlobalConfig] must satisfy regardless of
// where its values came from.
func (c GlobalConfig) Validate() error {
	if c.ScaleAbovePercent < 1 || c.ScaleAbovePercent > 99 {
		return fmt.Errorf("scale-above-percent must be within [1, 99]: %d", c.ScaleAbovePercent)
	}
	if c.ScaleAfterIntervals < 1 {
		return fmt.Errorf("scale-after-intervals must be >= 1: %d", c.ScaleAfterIntervals)
	}
	if c.ScaleUpPercent < 0 || c.ScaleUpPercent > maxScaleUpPercent {
		return fmt.Errorf("scale-up-percent must be within [0, %d]: %d", maxScaleUpPercent, c.ScaleUpPercent)
	}
	if c.ScaleUpMinIncrement < 0 {
		return fmt.Errorf("scale-up-min-increment must be >= 0: %d", c.ScaleUpMinIncrement)
	}
	if c.ScaleUpMaxIncrement < c.ScaleUpMinIncrement {
		return fmt.Errorf("scale-up-max-increment must be >= scale-up-min-increment")
	}
	if c.ScaleCooldownTime < 0 {
		return fmt.Errorf("scale-cooldown-time must be >= 0: %d", c.ScaleCooldownTime)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("cannot parse %s=%q: %w", key, raw, err)
	}
	return val, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("cannot parse %s=%q: %w", key, raw, err)
	}
	return val, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("cannot parse %s=%q: %w", key, raw, err)
	}
	return val, nil
}

func durationSecondsEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("cannot parse %s=%q: %w", key, raw, err)
	}
	return time.Duration(secs) * time.Second, nil
}
