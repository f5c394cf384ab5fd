package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
)

// Handler processes one claimed job. A returned error or a panic marks the
// job failed; otherwise it is marked completed.
type Handler func(ctx context.Context, msg *Message) error

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	concurrency  int
	pollInterval time.Duration
	logger       *logging.Logger
}

// WithConcurrency sets how many jobs may be processed at once
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle slot waits before claiming again
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithLogger(l *logging.Logger) WorkerOption {
	return func(o *workerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Worker pulls jobs from a Store with a fixed number of slots
type Worker struct {
	store   Store
	handler Handler
	opts    workerOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(store Store, handler Handler, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if handler == nil {
		return nil, ErrNoHandler
	}
	o := workerOptions{
		concurrency:  10,
		pollInterval: 500 * time.Millisecond,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Worker{store: store, handler: handler, opts: o}, nil
}

// Start launches the worker slots. Jobs keep being claimed until Stop is
// called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return ErrWorkerStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for slot := range w.opts.concurrency {
		g.Go(func() error {
			w.loop(gctx, slot)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	w.cancel, w.done = cancel, done

	w.opts.logger.Plain().
		WithField("queue", w.store.Name()).
		WithField("concurrency", w.opts.concurrency).
		Info("queue worker started")
	return nil
}

// Stop stops claiming new jobs and waits for in-flight handlers to return,
// or for ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return ErrWorkerNotStarted
	}

	cancel()
	select {
	case <-done:
		w.opts.logger.Plain().WithField("queue", w.store.Name()).Info("queue worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err())
	}
}

func (w *Worker) loop(ctx context.Context, slot int) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// A job popped by a cancelled claim would sit in active until its lease expires
		msg, err := w.store.Claim(context.WithoutCancel(ctx))
		if err != nil {
			w.opts.logger.Plain().
				WithField("queue", w.store.Name()).
				WithField("slot", slot).
				WithError(err).
				Error("failed to claim job")
			timer.Reset(w.opts.pollInterval)
			continue
		}
		if msg == nil {
			timer.Reset(w.opts.pollInterval)
			continue
		}

		w.process(context.WithoutCancel(ctx), msg)
		timer.Reset(0)
	}
}

func (w *Worker) process(ctx context.Context, msg *Message) {
	err := w.run(ctx, msg)
	log := w.opts.logger.Plain().WithJob(msg.ID).WithField("queue", msg.Name)

	if err != nil {
		log.WithError(err).Warn("job failed")
		if ferr := w.store.Fail(ctx, msg, err.Error()); ferr != nil {
			log.WithError(ferr).Error("failed to mark job failed")
			return
		}
		metrics.RecordQueueJob(string(StateFailed))
		return
	}

	if cerr := w.store.Complete(ctx, msg); cerr != nil {
		log.WithError(cerr).Error("failed to mark job completed")
		return
	}
	metrics.RecordQueueJob(string(StateCompleted))
}

func (w *Worker) run(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return w.handler(ctx, msg)
}
