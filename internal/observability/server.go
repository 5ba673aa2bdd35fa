// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides Prometheus metrics and an HTTP endpoint for
// metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// Metrics contains the wgcauth Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	AuthOutcomes    *prometheus.CounterVec
	RemoteCalls     *prometheus.CounterVec
	PowSolveSeconds prometheus.Histogram
	PowIterations   prometheus.Histogram
}

// NewMetrics creates and registers the wgcauth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wgcauth_auth_outcomes_total",
				Help: "Total number of authentication step outcomes by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		RemoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wgcauth_remote_calls_total",
				Help: "Total number of identity service calls by operation and final status",
			},
			[]string{"operation", "status"},
		),
		PowSolveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wgcauth_pow_solve_seconds",
			Help:    "Time spent solving proof-of-work challenges",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		PowIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wgcauth_pow_iterations",
			Help:    "Nonces tried per proof-of-work challenge",
			Buckets: prometheus.ExponentialBuckets(1, 8, 10),
		}),
	}

	reg.MustRegister(m.AuthOutcomes, m.RemoteCalls, m.PowSolveSeconds, m.PowIterations)

	return m
}

// RecordOutcome counts one authentication step outcome.
func (m *Metrics) RecordOutcome(step, outcome string) {
	if m == nil {
		return
	}
	m.AuthOutcomes.WithLabelValues(step, outcome).Inc()
}

// RecordRemoteCall counts one identity service call. A status of 0 means
// the call failed before a response arrived.
func (m *Metrics) RecordRemoteCall(operation string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.RemoteCalls.WithLabelValues(operation, label).Inc()
}

// RecordProofOfWork observes one solved or abandoned challenge.
func (m *Metrics) RecordProofOfWork(iterations uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PowIterations.Observe(float64(iterations))
	m.PowSolveSeconds.Observe(elapsed.Seconds())
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server with its own registry.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
}

// Metrics returns the metrics registered on this server's registry.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// SetReadiness replaces the readiness checker. Must be called before Start.
func (s *Server) SetReadiness(isReady ReadinessChecker) {
	s.isReady = isReady
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server. Stopping a server
// that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once the callback server is up, 503 before.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
