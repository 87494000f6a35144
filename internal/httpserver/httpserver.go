// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package httpserver exposes the controller's liveness, readiness, and
// Prometheus scrape endpoints.
package httpserver

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Server serves /alive, /ready, and /metrics.
type Server struct {
	addr    string
	ready   atomic.Bool
	inner   *http.Server
	handler http.Handler
}

// New creates a new [Server] listening on addr.
func New(addr string) *Server {
	s := &Server{addr: addr}

	mux := http.NewServeMux()
	mux.HandleFunc("/alive", s.handleAlive)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	s.handler = mux

	s.inner = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the underlying [http.Handler], for use in tests that
// want to exercise routing without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetReady flips the readiness flag. The controller's run loop calls this
// after each successful iteration: /ready reports 200 from the first one
// on, 503 before it.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.inner.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.inner.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}
