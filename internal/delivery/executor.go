package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/metrics"
	"github.com/austindbirch/hookline/internal/tracing"
)

const (
	DefaultAttemptTimeout = 10 * time.Second

	// Response bodies are drained up to this size so connections can be reused
	maxDrainBytes = 64 << 10
)

// Executor performs single delivery attempts. It never retries.
type Executor struct {
	endpoints EndpointGetter
	log       DeliveryLog
	client    *http.Client
	timeout   time.Duration
	userAgent string
	now       func() time.Time
	logger    *logging.Logger
}

type ExecutorOption func(*Executor)

func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(x *Executor) {
		if c != nil {
			x.client = c
		}
	}
}

// WithAttemptTimeout sets the hard deadline for one POST
func WithAttemptTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) {
		if d > 0 {
			x.timeout = d
		}
	}
}

func WithUserAgent(ua string) ExecutorOption {
	return func(x *Executor) {
		if ua != "" {
			x.userAgent = ua
		}
	}
}

func WithExecutorLogger(l *logging.Logger) ExecutorOption {
	return func(x *Executor) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithNow sets the clock used for envelope timestamps and log entries
func WithNow(now func() time.Time) ExecutorOption {
	return func(x *Executor) {
		if now != nil {
			x.now = now
		}
	}
}

func NewExecutor(endpoints EndpointGetter, log DeliveryLog, opts ...ExecutorOption) *Executor {
	x := &Executor{
		endpoints: endpoints,
		log:       log,
		client:    &http.Client{},
		timeout:   DefaultAttemptTimeout,
		userAgent: DefaultUserAgent,
		now:       time.Now,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Attempt makes one delivery try for job and records exactly one log entry
func (x *Executor) Attempt(ctx context.Context, job Job) Outcome {
	ctx, span := tracing.StartSpan(ctx, "delivery.attempt",
		attribute.String("delivery_id", job.DeliveryID),
		attribute.String("tenant_id", job.TenantID),
		attribute.String("endpoint_id", job.EndpointID),
		attribute.String("event_type", job.EventType),
		attribute.Int("attempt", job.Attempt),
	)
	defer span.End()

	start := time.Now()
	out := x.attempt(ctx, job)
	latency := time.Since(start)

	span.SetAttributes(
		attribute.String("outcome", string(out.Kind)),
		attribute.Int("http.status_code", out.StatusCode),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)
	if out.Failed() {
		span.SetAttributes(attribute.String("failure_reason", out.Reason()))
		tracing.SetSpanError(ctx, errors.New(out.describe()))
	}
	metrics.RecordAttempt(string(out.Kind), latency)

	x.record(ctx, job, out)
	return out
}

func (x *Executor) attempt(ctx context.Context, job Job) Outcome {
	tracing.AddSpanEvent(ctx, "registry.get_endpoint")
	ep, err := x.endpoints.GetEndpoint(ctx, job.EndpointID)
	if errors.Is(err, ErrEndpointNotFound) {
		return Outcome{Kind: Skipped, Error: "endpoint not found"}
	}
	if err != nil {
		// Registry unavailable is transient, so let the scheduler retry it
		return Outcome{Kind: NetworkError, Error: fmt.Sprintf("endpoint lookup: %v", err)}
	}
	if !ep.Active {
		return Outcome{Kind: Skipped, Error: "endpoint inactive"}
	}

	env := NewEnvelope(job.EventType, job.Payload, x.now())
	body, err := json.Marshal(env)
	if err != nil {
		// Payload was valid JSON when enqueued; only a corrupted job lands here
		return Outcome{Kind: NetworkError, Error: fmt.Sprintf("encode envelope: %v", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	tracing.AddSpanEvent(ctx, "http.sign_request")
	req, err := NewRequest(reqCtx, ep, env, body, x.userAgent)
	if err != nil {
		return Outcome{Kind: NetworkError, Error: err.Error()}
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	resp, err := x.client.Do(req)
	if err != nil {
		return classify(0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return classify(resp.StatusCode, nil)
}

// record writes the audit entry; failures are logged and counted, never returned
func (x *Executor) record(ctx context.Context, job Job, out Outcome) {
	if x.log == nil {
		return
	}
	entry := LogEntry{
		DeliveryID: job.DeliveryID,
		TenantID:   job.TenantID,
		EndpointID: job.EndpointID,
		EventType:  job.EventType,
		Attempt:    job.Attempt,
		Outcome:    out.Kind,
		HTTPStatus: out.StatusCode,
		Error:      out.Error,
		At:         x.now().UTC(),
	}
	if err := x.log.Record(ctx, entry); err != nil {
		metrics.RecordDeliveryLogError()
		x.logger.WithContext(ctx).
			WithEndpoint(job.EndpointID).
			WithEvent(job.EventType).
			WithField("delivery_id", job.DeliveryID).
			WithError(err).
			Warn("delivery log write failed")
	}
}

func (o Outcome) describe() string {
	if o.Error != "" {
		return fmt.Sprintf("%s: %s", o.Kind, o.Error)
	}
	return fmt.Sprintf("%s: status %d", o.Kind, o.StatusCode)
}
