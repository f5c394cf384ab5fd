package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStoreNil         = errors.New("queue store cannot be nil")
	ErrEmptyBody        = errors.New("job body cannot be empty")
	ErrNoHandler        = errors.New("no job handler configured")
	ErrWorkerStarted    = errors.New("worker already started")
	ErrWorkerNotStarted = errors.New("worker not started")
	ErrUnknownState     = errors.New("unknown job state")
)

// State is where a job record currently lives
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Message is a single queued job. Body is opaque to the queue.
type Message struct {
	ID        string
	Name      string
	Body      []byte
	CreatedAt time.Time
	RunAt     time.Time
}

// Record is a job together with its bookkeeping, as returned by inspection calls
type Record struct {
	Message
	State        State
	FailedReason string
	FinishedAt   time.Time
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Store persists jobs for one named queue.
//
// Claim returns (nil, nil) when nothing is ready. A claimed job stays active
// until Complete or Fail is called, or until its lease expires, after which
// the next Claim hands it out again.
type Store interface {
	Name() string
	Push(ctx context.Context, msg *Message, delay time.Duration) error
	Claim(ctx context.Context) (*Message, error)
	Complete(ctx context.Context, msg *Message) error
	Fail(ctx context.Context, msg *Message, reason string) error
	Stats(ctx context.Context) (Stats, error)
	Records(ctx context.Context, state State, limit int) ([]Record, error)
}

// Queue is the producer side of a Store
type Queue struct {
	store Store
	now   func() time.Time
}

// New wraps store. Only WithClock is meaningful here; it must match the
// store's clock so run-at times line up.
func New(store Store, opts ...StoreOption) (*Queue, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue{store: store, now: o.now}, nil
}

func (q *Queue) Name() string { return q.store.Name() }

// Add enqueues body to become claimable after delay and returns the job id
func (q *Queue) Add(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	if len(body) == 0 {
		return "", ErrEmptyBody
	}
	if delay < 0 {
		delay = 0
	}
	now := q.now()
	msg := &Message{
		ID:        uuid.NewString(),
		Name:      q.store.Name(),
		Body:      body,
		CreatedAt: now,
		RunAt:     now.Add(delay),
	}
	if err := q.store.Push(ctx, msg, delay); err != nil {
		return "", fmt.Errorf("push job %s: %w", msg.ID, err)
	}
	return msg.ID, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.store.Stats(ctx)
}

// StoreOption configures either store implementation
type StoreOption func(*storeOptions)

type storeOptions struct {
	keepCompleted int
	keepFailed    int
	lease         time.Duration
	now           func() time.Time
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		keepCompleted: 100,
		keepFailed:    50,
		lease:         time.Minute,
		now:           time.Now,
	}
}

// WithRetention caps how many finished records are kept per final state.
// Zero drops the record as soon as it finishes.
func WithRetention(completed, failed int) StoreOption {
	return func(o *storeOptions) {
		o.keepCompleted = max(completed, 0)
		o.keepFailed = max(failed, 0)
	}
}

// WithLease sets how long a claimed job may stay active before it is handed out again
func WithLease(d time.Duration) StoreOption {
	return func(o *storeOptions) {
		if d > 0 {
			o.lease = d
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}
