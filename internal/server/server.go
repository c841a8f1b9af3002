package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"inkwell/internal/api"
	"inkwell/internal/broker"
	"inkwell/internal/coauthor"
	"inkwell/internal/coauthor/repo"
	"inkwell/internal/coauthor/worker"
	"inkwell/internal/config"
	"inkwell/internal/engine"
	"inkwell/internal/monitor"
	"inkwell/internal/ratelimit"
	"inkwell/internal/scope"
)

type Server struct {
	cfg         *config.Config
	deps        *Dependency
	httpServer  *http.Server
	asynqServer *asynq.Server
	asynqMux    *asynq.ServeMux
	bus         *broker.Broker
	sweeper     *coauthor.RetentionSweeper
	engine      *engine.Client
	logger      *slog.Logger
}

func NewServer(cfg *config.Config, deps *Dependency) *Server {
	logger := deps.Logger

	bus := broker.NewBroker(broker.Config{
		HeartbeatInterval: cfg.Broker.HeartbeatInterval,
		ReplayCapacity:    cfg.Broker.ReplayCapacity,
		SubscriberBuffer:  cfg.Broker.SubscriberBuffer,
	}, logger)

	engineClient := engine.NewClient(engine.ClientConfig{
		Addr:             cfg.Engine.Addr,
		StreamingEnabled: cfg.Engine.StreamingEnabled,
		RequestTimeout:   cfg.Engine.RequestTimeout,
	}, logger)

	archiveRepo := repo.NewRepository(deps.PG, deps.Redis)
	archiver := coauthor.NewQueueArchiver(deps.AsynqClient)
	controller := coauthor.NewController(bus, engineClient, archiver, logger)

	sweeper := coauthor.NewRetentionSweeper(controller, coauthor.SweepConfig{
		Interval:  cfg.Session.SweepInterval,
		Retention: cfg.Session.Retention,
	}, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Window: cfg.RateLimit.Window,
		Quota:  cfg.RateLimit.Quota,
		Mode:   ratelimit.ParseMode(cfg.RateLimit.Mode),
	}, logger)

	authz := scope.NewAuthorizer(scope.NewPgOwnershipStore(deps.PG), logger)

	archiveWorker := worker.NewSessionTaskWorker(archiveRepo, logger)

	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(coauthor.SessionArchiveTask, archiveWorker.HandleSessionArchive)

	router := api.NewRouter(bus, controller, limiter, authz, logger)
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout 留给 SSE handler 自己管理
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:         cfg,
		deps:        deps,
		httpServer:  httpServer,
		asynqServer: asynqServer,
		asynqMux:    mux,
		bus:         bus,
		sweeper:     sweeper,
		engine:      engineClient,
		logger:      logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.bus.Start(ctx)
	go s.sweeper.Start()

	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go func() {
		if err := monitor.NewMetricsServer(s.cfg.Metrics.Addr, s.logger).Run(ctx); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()
	s.sweeper.Stop()
	s.bus.Close()

	if err := s.engine.Close(); err != nil {
		s.logger.Error("Engine client close error", "error", err)
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
