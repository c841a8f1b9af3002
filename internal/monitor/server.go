package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the prometheus registry on its own listener, away from
// the API port where long-lived SSE connections hold write deadlines open.
type MetricsServer struct {
	srv     *http.Server
	logger  *slog.Logger
	started time.Time
}

func NewMetricsServer(addr string, logger *slog.Logger) *MetricsServer {
	s := &MetricsServer{
		logger: logger.With("component", "metrics"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}))
	mux.HandleFunc("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime":"%s"}`, time.Since(s.started).Round(time.Second))
}

// Run blocks until ctx is canceled or the listener fails.
func (s *MetricsServer) Run(ctx context.Context) error {
	s.started = time.Now()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics listener up", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
