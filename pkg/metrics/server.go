package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shawkym/matrixsync/pkg/log"
)

// DefaultAddr is used when ServerConfig.Addr is empty.
const DefaultAddr = ":9090"

// Server is an HTTP server that exposes Prometheus metrics.
type Server struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
	metrics  *Metrics
}

// ServerConfig contains configuration for the metrics server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":9090")
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Registry is the Prometheus registry to use (if nil, a new one is created)
	Registry *prometheus.Registry
}

// NewServer creates a metrics server and the collectors it exposes.
func NewServer(config ServerConfig) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		addr:     config.Addr,
		registry: registry,
		metrics:  NewMetrics(registry),
	}
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP routes served by the metrics server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/", indexHandler)
	return mux
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	log.WithField("addr", listener.Addr().String()).Info("starting metrics server")

	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server failed")
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("metrics server shutdown failed")
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	log.Info("metrics server stopped")
	return nil
}

// GetMetrics returns the collectors to pass as a stream observer.
func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func (s *Server) GetRegistry() *prometheus.Registry {
	return s.registry
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"matrixsync-metrics"}`)
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>matrixsync metrics</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        .endpoint { margin: 20px 0; padding: 15px; background-color: #f5f5f5; border-left: 4px solid #0066cc; }
        code { background-color: #e8e8e8; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>matrixsync metrics</h1>

    <div class="endpoint">
        <h2><a href="/metrics">/metrics</a></h2>
        <p>Prometheus metrics endpoint in OpenMetrics format.</p>
    </div>

    <div class="endpoint">
        <h2><a href="/health">/health</a></h2>
        <p>Health check endpoint.</p>
    </div>

    <h2>Available Metrics</h2>
    <ul>
        <li><code>matrixsync_sync_requests_total</code> - Sync calls by outcome</li>
        <li><code>matrixsync_sync_request_duration_seconds</code> - Sync call duration histogram</li>
        <li><code>matrixsync_snapshots_total</code> - Snapshots delivered</li>
        <li><code>matrixsync_events_total</code> - Events in delivered snapshots</li>
        <li><code>matrixsync_room_updates_total</code> - Room entries in delivered snapshots</li>
        <li><code>matrixsync_active_streams</code> - Running sync streams</li>
        <li><code>matrixsync_last_snapshot_timestamp_seconds</code> - Time of the last snapshot</li>
    </ul>
</body>
</html>`)
}
