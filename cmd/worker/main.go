package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/hookline/internal/config"
	"github.com/austindbirch/hookline/internal/db"
	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/dlq"
	"github.com/austindbirch/hookline/internal/health"
	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
	"github.com/austindbirch/hookline/internal/queue"
	"github.com/austindbirch/hookline/internal/store"
	"github.com/austindbirch/hookline/internal/tracing"
)

const (
	serviceName     = "hookline-worker"
	shutdownTimeout = 30 * time.Second
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
		logger.Plain().WithError(err).Fatal("worker exited")
	}
	logger.Plain().Info("worker service stopped")
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

	if cfg.DB.AutoMigrate {
		if err := store.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Plain().Info("database schema ensured")
	}

	rdb, err := db.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rdb.Close()

	qstore, err := queue.NewRedisStore(rdb, cfg.Queue.Prefix, cfg.Queue.Name,
		queue.WithRetention(cfg.Queue.KeepCompleted, cfg.Queue.KeepFailed),
		queue.WithLease(cfg.Queue.Lease),
	)
	if err != nil {
		return err
	}

	var notifier delivery.DeadLetterNotifier
	if cfg.NSQ.PublishDLQ {
		producer, err := dlq.NewProducer(cfg.NSQ.NsqdTCPAddr)
		if err != nil {
			return err
		}
		defer producer.Stop()
		if notifier, err = dlq.NewNSQNotifier(producer, cfg.NSQ.DLQTopic, logger); err != nil {
			return err
		}
	}

	pipeline, err := delivery.NewPipeline(pipelineConfig(cfg, qstore,
		store.NewEndpointRegistry(pool), store.NewDeliveryLog(pool), notifier, logger))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	httpSrv := &http.Server{
		Addr: cfg.Worker.HTTPPort,
		Handler: newMux(reg, map[string]health.Checker{
			"postgres": pool,
			"redis":    health.CheckFunc(db.RedisPing(rdb)),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	logger.Plain().WithFields(map[string]any{
		"queue":       cfg.Queue.Name,
		"concurrency": cfg.Queue.Concurrency,
		"addr":        httpSrv.Addr,
	}).Info("worker service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("worker HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		monitorBacklog(gctx, qstore, cfg.Queue.MonitorEvery, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Plain().Info("shutting down worker service")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return pipeline.Stop(shutdownCtx)
	})
	return g.Wait()
}

func pipelineConfig(cfg config.Config, st queue.Store, endpoints delivery.EndpointRegistry, log delivery.DeliveryLog, notifier delivery.DeadLetterNotifier, logger *logging.Logger) delivery.PipelineConfig {
	return delivery.PipelineConfig{
		Store:     st,
		Endpoints: endpoints,
		Log:       log,
		Policy: delivery.RetryPolicy{
			MaxAttempts: cfg.Delivery.MaxAttempts,
			BaseDelay:   cfg.Delivery.BaseDelay,
		},
		Concurrency:    cfg.Queue.Concurrency,
		PollInterval:   cfg.Queue.PollInterval,
		AttemptTimeout: cfg.Delivery.AttemptTimeout,
		UserAgent:      cfg.Delivery.UserAgent,
		Notifier:       notifier,
		Logger:         logger,
	}
}

func newMux(reg *prometheus.Registry, checks map[string]health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(checks))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// statser is the part of queue.Store the backlog monitor needs
type statser interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// monitorBacklog refreshes the queue depth gauge until ctx is done
func monitorBacklog(ctx context.Context, s statser, every time.Duration, logger *logging.Logger) {
	if every <= 0 {
		every = 15 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := recordBacklog(ctx, s); err != nil && ctx.Err() == nil {
			logger.Plain().WithError(err).Warn("failed to read queue stats")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordBacklog(ctx context.Context, s statser) error {
	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	metrics.SetQueueDepth(string(queue.StateWaiting), st.Waiting)
	metrics.SetQueueDepth(string(queue.StateDelayed), st.Delayed)
	metrics.SetQueueDepth(string(queue.StateActive), st.Active)
	metrics.SetQueueDepth(string(queue.StateCompleted), st.Completed)
	metrics.SetQueueDepth(string(queue.StateFailed), st.Failed)
	return nil
}
