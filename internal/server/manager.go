package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/config"
)

// Manager runs the API server and, when a metrics port is configured, a
// separate metrics server for Prometheus scrapes.
type Manager struct {
	api     *http.Server
	metrics *http.Server

	apiListener     net.Listener
	metricsListener net.Listener

	cfg    config.ServerConfig
	errCh  chan error
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewManager creates the server manager. A nil gatherer disables the
// metrics server.
func NewManager(handler http.Handler, gatherer prometheus.Gatherer, cfg config.ServerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		api: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg:    cfg,
		errCh:  make(chan error, 2),
		logger: logger.With(zap.String("component", "http_server")),
	}

	if gatherer != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		m.metrics = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort),
			Handler: mux,
		}
	}
	return m
}

// Start begins serving on both listeners without blocking.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.apiListener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.api.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.api.Addr, err)
	}
	m.apiListener = listener
	m.logger.Info("starting API server", zap.String("addr", listener.Addr().String()))
	go m.serve(m.api, listener, "api")

	if m.metrics != nil {
		mlistener, err := net.Listen("tcp", m.metrics.Addr)
		if err != nil {
			listener.Close()
			m.apiListener = nil
			return fmt.Errorf("failed to listen on %s: %w", m.metrics.Addr, err)
		}
		m.metricsListener = mlistener
		m.logger.Info("starting metrics server", zap.String("addr", mlistener.Addr().String()))
		go m.serve(m.metrics, mlistener, "metrics")
	}
	return nil
}

func (m *Manager) serve(srv *http.Server, listener net.Listener, name string) {
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("server failed", zap.String("server", name), zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown drains in-flight requests on both servers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down servers")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	err := m.api.Shutdown(shutdownCtx)
	if m.metrics != nil {
		err = errors.Join(err, m.metrics.Shutdown(shutdownCtx))
	}
	m.apiListener = nil
	m.metricsListener = nil

	if err != nil {
		m.logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	m.logger.Info("servers stopped")
	return nil
}

// WaitForShutdown blocks until a termination signal or a server failure,
// then shuts down.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.errCh:
		if err != nil {
			m.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors returns asynchronous server errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr returns the bound API address, useful when listening on port 0.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.apiListener == nil {
		return m.api.Addr
	}
	return m.apiListener.Addr().String()
}

// MetricsAddr returns the bound metrics address, or empty when disabled.
func (m *Manager) MetricsAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metricsListener == nil {
		return ""
	}
	return m.metricsListener.Addr().String()
}

// IsRunning reports whether the manager accepts requests.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && m.apiListener != nil
}
