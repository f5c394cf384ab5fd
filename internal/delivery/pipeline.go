package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
	"github.com/austindbirch/hookline/internal/queue"
	"github.com/austindbirch/hookline/internal/tracing"
)

// ErrDeliveryAbandoned marks a delivery that failed its final attempt.
// Returning it from the job handler lands the record in the failed list.
var ErrDeliveryAbandoned = errors.New("delivery abandoned")

type PipelineConfig struct {
	Store     queue.Store
	Endpoints EndpointRegistry
	Log       DeliveryLog

	// Optional
	Policy         RetryPolicy
	Concurrency    int
	PollInterval   time.Duration
	AttemptTimeout time.Duration
	UserAgent      string
	HTTPClient     *http.Client
	Notifier       DeadLetterNotifier
	Logger         *logging.Logger
	Clock          func() time.Time // must match the store's clock
}

// Pipeline owns the dispatcher, the queue worker and the retry loop
type Pipeline struct {
	queue      *queue.Queue
	worker     *queue.Worker
	executor   *Executor
	dispatcher *Dispatcher
	policy     RetryPolicy
	notifier   DeadLetterNotifier
	logger     *logging.Logger
	now        func() time.Time
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, queue.ErrStoreNil
	}
	if cfg.Endpoints == nil {
		return nil, errors.New("endpoint registry is required")
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultRetryPolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	q, err := queue.New(cfg.Store, queue.WithClock(cfg.Clock))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		queue: q,
		executor: NewExecutor(cfg.Endpoints, cfg.Log,
			WithHTTPClient(cfg.HTTPClient),
			WithAttemptTimeout(cfg.AttemptTimeout),
			WithUserAgent(cfg.UserAgent),
			WithExecutorLogger(cfg.Logger),
			WithNow(cfg.Clock),
		),
		dispatcher: NewDispatcher(cfg.Endpoints, NewQueueEnqueuer(q),
			WithDispatcherLogger(cfg.Logger),
			WithDispatcherClock(cfg.Clock),
		),
		policy:     cfg.Policy,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		now:        cfg.Clock,
	}

	p.worker, err = queue.NewWorker(cfg.Store, p.Handle,
		queue.WithConcurrency(cfg.Concurrency),
		queue.WithPollInterval(cfg.PollInterval),
		queue.WithLogger(cfg.Logger),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) Dispatcher() *Dispatcher { return p.dispatcher }

func (p *Pipeline) Queue() *queue.Queue { return p.queue }

// Dispatch is the synchronous form of Go; see Dispatcher.Dispatch
func (p *Pipeline) Dispatch(ctx context.Context, tenantID, eventType string, payload any) (int, error) {
	return p.dispatcher.Dispatch(ctx, tenantID, eventType, payload)
}

// Go is fire-and-forget dispatch
func (p *Pipeline) Go(ctx context.Context, tenantID, eventType string, payload any) {
	p.dispatcher.Go(ctx, tenantID, eventType, payload)
}

func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.worker.Start(ctx); err != nil {
		return fmt.Errorf("start delivery worker: %w", err)
	}
	return nil
}

// Stop refuses further Go calls and waits for background dispatches, then
// drains in-flight attempts. Delayed retries stay queued for the next Start.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.dispatcher.Close()
	if err := p.dispatcher.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for dispatches: %w", err)
	}
	return p.worker.Stop(ctx)
}

// Handle runs one queued attempt and schedules what comes next
func (p *Pipeline) Handle(ctx context.Context, msg *queue.Message) error {
	job, err := DecodeJob(msg.Body)
	if err != nil {
		p.logger.Plain().WithJob(msg.ID).WithError(err).Error("dropping malformed delivery job")
		return err
	}
	ctx = tracing.ExtractHeaders(ctx, job.TraceHeaders)

	out := p.executor.Attempt(ctx, job)
	action := p.policy.NextAction(out, job.Attempt)

	log := p.logger.WithContext(ctx).
		WithTenant(job.TenantID).
		WithEndpoint(job.EndpointID).
		WithEvent(job.EventType).
		WithJob(msg.ID).
		WithFields(map[string]any{
			"delivery_id": job.DeliveryID,
			"attempt":     job.Attempt,
			"outcome":     string(out.Kind),
		})

	switch {
	case action.Retry:
		next := job.Next()
		next.TraceHeaders = tracing.InjectHeaders(ctx)
		body, err := EncodeJob(next)
		if err == nil {
			_, err = p.queue.Add(ctx, body, action.Delay)
		}
		if err != nil {
			log.WithError(err).Error("failed to schedule retry")
			return fmt.Errorf("schedule attempt %d: %w", next.Attempt, err)
		}
		metrics.RecordRetry(out.Reason())
		metrics.RecordEnqueued(true)
		log.WithField("retry_in_ms", action.Delay.Milliseconds()).
			WithField("status_code", out.StatusCode).
			Warn("delivery attempt failed, retry scheduled")
		return nil

	case out.Failed():
		metrics.RecordPermanentFailure()
		log.WithField("status_code", out.StatusCode).
			WithField("error", out.Error).
			Error("delivery abandoned after final attempt")
		p.notifyDeadLetter(ctx, job, out)
		return fmt.Errorf("%w: %s after %d attempts", ErrDeliveryAbandoned, out.Kind, job.Attempt)

	case out.Kind == Skipped:
		log.WithField("reason", out.Error).Info("delivery skipped")
		return nil
	}

	log.WithField("status_code", out.StatusCode).Info("delivery succeeded")
	return nil
}

func (p *Pipeline) notifyDeadLetter(ctx context.Context, job Job, out Outcome) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, NewDeadLetter(job, out, p.now())); err != nil {
		p.logger.WithContext(ctx).
			WithEndpoint(job.EndpointID).
			WithField("delivery_id", job.DeliveryID).
			WithError(err).
			Error("dead letter notification failed")
		return
	}
	metrics.RecordDLQ()
}
