package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
	"github.com/austindbirch/hookline/internal/queue"
	"github.com/austindbirch/hookline/internal/tracing"
)

// Enqueuer places a job on the delivery queue, eligible after delay
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) (string, error)
}

// QueueEnqueuer encodes jobs onto a queue.Queue
type QueueEnqueuer struct {
	q *queue.Queue
}

func NewQueueEnqueuer(q *queue.Queue) *QueueEnqueuer {
	return &QueueEnqueuer{q: q}
}

func (e *QueueEnqueuer) Enqueue(ctx context.Context, job Job, delay time.Duration) (string, error) {
	body, err := EncodeJob(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return e.q.Add(ctx, body, delay)
}

// Dispatcher fans an event out to every subscribed active endpoint of a tenant
type Dispatcher struct {
	endpoints EndpointLister
	enqueuer  Enqueuer
	logger    *logging.Logger
	now       func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatcherClock sets the clock stamped on jobs as DispatchedAt
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(endpoints EndpointLister, enqueuer Enqueuer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		endpoints: endpoints,
		enqueuer:  enqueuer,
		logger:    logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch enqueues one attempt-1 job per active endpoint of tenantID that
// subscribes to eventType, and returns how many were enqueued. payload must
// be JSON-encodable; a json.RawMessage is sent verbatim.
//
// An enqueue failure for one endpoint is logged and does not stop the
// others. Only payload encoding and the registry lookup return errors.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, eventType string, payload any) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "delivery.dispatch",
		attribute.String("tenant_id", tenantID),
		attribute.String("event_type", eventType),
	)
	defer span.End()

	raw, err := encodePayload(payload)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}

	endpoints, err := d.endpoints.ListActiveEndpoints(ctx, tenantID)
	if err != nil {
		err = fmt.Errorf("list endpoints for tenant %s: %w", tenantID, err)
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	metrics.RecordDispatch(eventType)

	traceHeaders := tracing.InjectHeaders(ctx)
	dispatchedAt := d.now().UTC().Format(time.RFC3339)

	enqueued := 0
	for _, ep := range endpoints {
		// Registries are expected to filter, but an inactive row must never get a job
		if !ep.Active || !ep.Subscribes(eventType) {
			continue
		}
		job := Job{
			DeliveryID:   uuid.NewString(),
			TenantID:     tenantID,
			EndpointID:   ep.ID,
			EventType:    eventType,
			Payload:      raw,
			Attempt:      1,
			DispatchedAt: dispatchedAt,
			TraceHeaders: traceHeaders,
		}
		jobID, err := d.enqueuer.Enqueue(ctx, job, 0)
		if err != nil {
			metrics.RecordEnqueueError()
			d.logger.WithContext(ctx).
				WithTenant(tenantID).
				WithEndpoint(ep.ID).
				WithEvent(eventType).
				WithError(err).
				Error("failed to enqueue delivery")
			continue
		}
		metrics.RecordEnqueued(false)
		enqueued++
		d.logger.WithContext(ctx).
			WithTenant(tenantID).
			WithEndpoint(ep.ID).
			WithEvent(eventType).
			WithJob(jobID).
			WithField("delivery_id", job.DeliveryID).
			Debug("delivery enqueued")
	}

	span.SetAttributes(
		attribute.Int("endpoints.active", len(endpoints)),
		attribute.Int("jobs.enqueued", enqueued),
	)
	return enqueued, nil
}

// Go dispatches in the background. The caller does not wait and never sees
// an error; failures and panics are logged. After Close the event is logged
// and dropped.
func (d *Dispatcher) Go(ctx context.Context, tenantID, eventType string, payload any) {
	ctx = context.WithoutCancel(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		metrics.RecordEnqueueError()
		d.logger.WithContext(ctx).
			WithTenant(tenantID).
			WithEvent(eventType).
			Warn("dispatcher closed, dropping event")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.WithContext(ctx).
					WithTenant(tenantID).
					WithEvent(eventType).
					WithField("panic", fmt.Sprint(r)).
					Error("dispatch panicked")
			}
		}()

		if _, err := d.Dispatch(ctx, tenantID, eventType, payload); err != nil {
			d.logger.WithContext(ctx).
				WithTenant(tenantID).
				WithEvent(eventType).
				WithError(err).
				Error("dispatch failed")
		}
	}()
}

// Close stops Go from starting new background dispatches. Dispatches already
// started still finish; use Wait to block on them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until background dispatches started with Go have finished,
// or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
