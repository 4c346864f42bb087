// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Server exposes the controller-runtime metrics registry on /metrics.
type Server struct {
	addr string
	mux  *http.ServeMux
	log  logr.Logger
}

func NewServer(log logr.Logger, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return &Server{addr: addr, mux: mux, log: log}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting metrics server", "address", s.addr)
	server := &http.Server{Addr: s.addr, Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP metrics server ListenAndServe: %w", err)
		}
	}()
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down metrics server")
		if err := server.Shutdown(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("HTTP metrics server Shutdown: %w", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}
