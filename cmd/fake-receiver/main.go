package main

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/austindbirch/hookline/internal/config"
	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/logging"
)

type receiver struct {
	secret     string
	failFirstN int64
	maxSkew    time.Duration
	delay      time.Duration
	now        func() time.Time
	logger     *logging.Logger

	reqCount atomic.Int64
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	return &receiver{
		secret:     cfg.EndpointSecret,
		failFirstN: int64(cfg.FailFirstN),
		maxSkew:    time.Duration(cfg.SigningLeewaySeconds) * time.Second,
		delay:      cfg.ResponseDelay,
		now:        time.Now,
		logger:     logger,
	}
}

func main() {
	cfg, err := config.Load()
	logger := logging.New("hookline-fake-receiver", logging.WithLevel(logging.ParseLevel(cfg.LogLevel)))
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}

	rc := newReceiver(cfg.FakeReceiver, logger)
	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	logger.Plain().WithFields(map[string]any{
		"addr":         srv.Addr,
		"fail_first_n": rc.failFirstN,
		"verify":       rc.secret != "",
	}).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-receiver stopped")
	}
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	log := rc.logger.Plain().
		WithEndpoint(r.Header.Get(delivery.HeaderID)).
		WithEvent(r.Header.Get(delivery.HeaderEvent)).
		WithField("request", n)

	if rc.secret != "" {
		if ok, msg := rc.verify(b, r.Header.Get(delivery.HeaderTimestamp), r.Header.Get(delivery.HeaderSignature)); !ok {
			log.WithField("reason", msg).Warn("fake-receiver failed to verify signature")
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	// Simulate a slow consumer
	if rc.delay > 0 {
		select {
		case <-time.After(rc.delay):
		case <-r.Context().Done():
			log.Warn("sender gave up while we were sleeping")
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= rc.failFirstN {
		log.WithField("body", truncate(string(b), 160)).Infof("FAILING (%d/%d)", n, rc.failFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.WithField("body", truncate(string(b), 160)).Info("fake-receiver OK")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// verify checks the signature over the raw body and rejects timestamps outside the skew window
func (rc *receiver) verify(body []byte, ts, sig string) (bool, string) {
	if ts == "" || sig == "" {
		return false, "missing headers"
	}
	sent, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return false, "invalid timestamp"
	}
	if skew := rc.now().Sub(sent).Abs(); skew > rc.maxSkew {
		return false, "timestamp too far from now (outside leeway)"
	}
	if !delivery.VerifySignature(body, rc.secret, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
