// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// droppedMessages is a package-level counter for messages dropped on a full
// subscriber buffer. This allows the stream hub's drop hook to increment the
// metric without needing access to the Server instance.
var droppedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "monisens_messages_dropped_total",
		Help: "Total number of streamed messages dropped by stream",
	},
	[]string{"stream"},
)

// RecordDroppedMessage increments the dropped message counter. Called when a
// subscriber buffer is full or a driver dispatches after stop.
func RecordDroppedMessage(stream string) {
	droppedMessages.WithLabelValues(stream).Inc()
}

// Metrics contains custom Prometheus metrics for MoniSens.
type Metrics struct {
	Sessions          *prometheus.GaugeVec
	MessagesTotal     *prometheus.CounterVec
	RecordsTotal      *prometheus.CounterVec
	ConnectRetries    prometheus.Counter
	LifecycleFailures *prometheus.CounterVec
}

// NewMetrics creates and registers custom MoniSens metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monisens_sessions",
				Help: "Number of device sessions by lifecycle state",
			},
			[]string{"state"},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monisens_messages_total",
				Help: "Total number of streamed messages by kind",
			},
			[]string{"kind"},
		),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monisens_records_total",
				Help: "Total number of sensor readings written to storage by status",
			},
			[]string{"status"},
		),
		ConnectRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "monisens_connect_retries_total",
				Help: "Total number of retried device connect or configure attempts",
			},
		),
		LifecycleFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monisens_lifecycle_failures_total",
				Help: "Total number of failed lifecycle operations by stage and status code",
			},
			[]string{"stage", "code"},
		),
	}

	reg.MustRegister(m.Sessions)
	reg.MustRegister(m.MessagesTotal)
	reg.MustRegister(m.RecordsTotal)
	reg.MustRegister(m.ConnectRetries)
	reg.MustRegister(m.LifecycleFailures)
	reg.MustRegister(droppedMessages)

	return m
}

// Server provides HTTP endpoints for observability (metrics, liveness, readiness).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}

	return s
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health endpoints
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	// Create buffered error channel so the goroutine doesn't block
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// Use CompareAndSwap to atomically transition from running to stopped.
	// This prevents a race where a concurrent Start() could succeed between
	// checking the running state and setting it to false.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
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

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready to accept connections,
// or 503 if not ready.
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
