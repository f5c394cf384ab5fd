package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/hookline/internal/api"
	"github.com/austindbirch/hookline/internal/config"
	"github.com/austindbirch/hookline/internal/db"
	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/health"
	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
	"github.com/austindbirch/hookline/internal/queue"
	"github.com/austindbirch/hookline/internal/store"
	"github.com/austindbirch/hookline/internal/tracing"
)

const (
	serviceName     = "hookline-ingest"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(serviceName, logging.WithLevel(logging.ParseLevel(cfg.LogLevel)))
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("ingest exited")
	}
	logger.Plain().Info("ingest stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(ctx, serviceName, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	rdb, err := db.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rdb.Close()

	qstore, err := queue.NewRedisStore(rdb, cfg.Queue.Prefix, cfg.Queue.Name,
		queue.WithRetention(cfg.Queue.KeepCompleted, cfg.Queue.KeepFailed))
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(qstore, store.NewEndpointRegistry(pool), logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	router, err := newRouter(cfg, dispatcher, reg, map[string]health.Checker{
		"postgres": pool,
		"redis":    health.CheckFunc(db.RedisPing(rdb)),
	}, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("ingest HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	// Accepted events must reach the queue before exit
	dispatcher.Close()
	return dispatcher.Wait(shutdownCtx)
}

func newDispatcher(st queue.Store, endpoints delivery.EndpointLister, logger *logging.Logger) (*delivery.Dispatcher, error) {
	q, err := queue.New(st)
	if err != nil {
		return nil, err
	}
	return delivery.NewDispatcher(endpoints, delivery.NewQueueEnqueuer(q), delivery.WithDispatcherLogger(logger)), nil
}

func newRouter(cfg config.Config, d api.Dispatcher, reg *prometheus.Registry, checks map[string]health.Checker, logger *logging.Logger) (chi.Router, error) {
	return api.NewRouter(api.Options{
		Dispatcher:   d,
		Health:       checks,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:       logger,
		StrictEvents: cfg.Ingest.StrictEvents,
	})
}
