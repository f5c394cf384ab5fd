package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/hookline/internal/config"
	"github.com/austindbirch/hookline/internal/health"
	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
)

const serviceName = "hookline-dlq-monitor"

// nsqStats is the subset of nsqd's /stats?format=json response we read
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Depth     int64  `json:"depth"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

type nsqdClient struct {
	base   string // http://host:port
	client *http.Client
}

func newNSQDClient(addr string) *nsqdClient {
	return &nsqdClient{base: "http://" + addr, client: &http.Client{Timeout: 5 * time.Second}}
}

func (c *nsqdClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("nsqd %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd %s: HTTP %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode nsqd %s: %w", path, err)
	}
	return nil
}

// Ping satisfies health.Checker
func (c *nsqdClient) Ping(ctx context.Context) error {
	return c.get(ctx, "/ping", nil)
}

// updateMetrics refreshes the dead-letter gauges from nsqd. A topic nobody has
// published to yet reads as zero.
func (c *nsqdClient) updateMetrics(ctx context.Context, topic string) error {
	var stats nsqStats
	if err := c.get(ctx, "/stats?format=json&topic="+url.QueryEscape(topic), &stats); err != nil {
		return err
	}

	metrics.SetNSQTopicDepth(topic, 0)
	for _, t := range stats.Topics {
		if t.TopicName != topic {
			continue
		}
		metrics.SetNSQTopicDepth(topic, t.Depth)
		for _, ch := range t.Channels {
			metrics.SetNSQChannelDepth(topic, ch.ChannelName, ch.Depth, ch.InFlightCount)
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	logger := logging.New(serviceName, logging.WithLevel(logging.ParseLevel(cfg.LogLevel)))
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("dlq-monitor exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	nsqd := newNSQDClient(cfg.NSQ.NsqdHTTPAddr)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.HTTPHandler(map[string]health.Checker{"nsqd": nsqd}))
	srv := &http.Server{Addr: cfg.Monitor.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Plain().WithFields(map[string]any{
		"nsqd":     cfg.NSQ.NsqdHTTPAddr,
		"topic":    cfg.NSQ.DLQTopic,
		"interval": cfg.Monitor.PollInterval.String(),
		"addr":     srv.Addr,
	}).Info("dlq-monitor starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		poll(gctx, nsqd, cfg.NSQ.DLQTopic, cfg.Monitor.PollInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// poll refreshes the gauges every interval until ctx is done
func poll(ctx context.Context, c *nsqdClient, topic string, every time.Duration, logger *logging.Logger) {
	if every <= 0 {
		every = 15 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := c.updateMetrics(ctx, topic); err != nil && ctx.Err() == nil {
			logger.Plain().WithError(err).WithField("topic", topic).Warn("failed to update nsq metrics")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
