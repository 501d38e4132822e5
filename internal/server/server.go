// Package server wires the HTTP surface: the API server, the metrics
// listener, and the session expiry janitor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/health"
	"github.com/inkwell-ai/inkwell/internal/httpapi"
)

// Server runs the public API and the internal metrics endpoint.
type Server struct {
	api     *http.Server
	metrics *http.Server
	logger  *zap.Logger
}

func New(cfg config.ServerConfig, api *httpapi.API, checks *health.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	api.Register(mux)
	checks.RegisterRoutes(mux)
	handler := Recover(logger)(RequestID(AccessLog(logger)(mux)))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	return &Server{
		api: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: handler,
			// WriteTimeout must outlast the longest answer stream.
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		metrics: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: metricsMux,
		},
		logger: logger,
	}
}

// Start launches both listeners. Fatal listen errors are reported on the
// returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 2)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.api.Addr))
		if err := s.api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", s.metrics.Addr))
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	return errs
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.api.Shutdown(ctx); err != nil {
		return err
	}
	return s.metrics.Shutdown(ctx)
}
