// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package notifier posts a best-effort templated chat message whenever the
// Reconciler resizes a PVC, using a plain webhook POST rather than any
// particular chat provider's SDK.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Notifier posts templated messages to a chat webhook.
type Notifier struct {
	webhookURL    string
	channel       string
	messagePrefix string
	messageSuffix string
	httpClient    *http.Client
	disabled      bool
}

// Option is a function which configures the [Notifier].
type Option func(n *Notifier)

// New creates a new [Notifier]. A Notifier constructed with an empty
// webhook URL, or with [WithDisabled], is inert: [Notifier.Notify] becomes
// a no-op. Callers disable it this way when the webhook URL is unset or
// when dry-run is active.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.webhookURL == "" {
		n.disabled = true
	}
	return n
}

// WithWebhookURL configures the [Notifier] to post to the given URL.
func WithWebhookURL(url string) Option {
	return func(n *Notifier) { n.webhookURL = url }
}

// WithChannel configures the [Notifier] to request the given channel.
func WithChannel(channel string) Option {
	return func(n *Notifier) { n.channel = channel }
}

// WithMessagePrefix configures the [Notifier] to prepend prefix to every message.
func WithMessagePrefix(prefix string) Option {
	return func(n *Notifier) { n.messagePrefix = prefix }
}

// WithMessageSuffix configures the [Notifier] to append suffix to every message.
func WithMessageSuffix(suffix string) Option {
	return func(n *Notifier) { n.messageSuffix = suffix }
}

// WithHTTPClient configures the [Notifier] to use the given [http.Client].
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) { n.httpClient = client }
}

// WithDisabled forces the [Notifier] into its inert state, used for
// dry-run mode.
func WithDisabled(disabled bool) Option {
	return func(n *Notifier) {
		if disabled {
			n.disabled = true
		}
	}
}

type payload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Notify posts message to the configured webhook. It never blocks the
// caller beyond the HTTP client's timeout, never retries, and logs instead
// of returning an error — resize decisions must never depend on whether
// the chat notification succeeded.
func (n *Notifier) Notify(ctx context.Context, message string) {
	if n.disabled {
		return
	}

	logger := log.FromContext(ctx)
	text := n.messagePrefix + message + n.messageSuffix

	body, err := json.Marshal(payload{Channel: n.channel, Text: text})
	if err != nil {
		logger.Error(err, "failed to encode notification payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		logger.Error(err, "failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		logger.Error(err, "failed to deliver notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Info("notification webhook returned a non-2xx status",
			"status", fmt.Sprintf("%d", resp.StatusCode))
	}
}
