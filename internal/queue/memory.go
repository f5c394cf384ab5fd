package queue

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. Nothing survives a restart.
type MemoryStore struct {
	name string
	opts storeOptions

	mu        sync.Mutex
	records   map[string]*Record
	waiting   []string
	delayed   []string
	active    map[string]time.Time // lease deadline
	completed []string             // newest first
	failed    []string             // newest first
}

func NewMemoryStore(name string, opts ...StoreOption) *MemoryStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		name:    name,
		opts:    o,
		records: make(map[string]*Record),
		active:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Push(ctx context.Context, msg *Message, delay time.Duration) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("push: message id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[msg.ID]; exists {
		return fmt.Errorf("push: job %s already exists", msg.ID)
	}
	rec := &Record{Message: *msg}
	rec.Body = slices.Clone(msg.Body)
	if delay > 0 {
		rec.State = StateDelayed
		s.delayed = append(s.delayed, msg.ID)
	} else {
		rec.State = StateWaiting
		s.waiting = append(s.waiting, msg.ID)
	}
	s.records[msg.ID] = rec
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	s.promoteLocked(now)

	if len(s.waiting) == 0 {
		return nil, nil
	}
	id := s.waiting[0]
	s.waiting = s.waiting[1:]

	rec := s.records[id]
	rec.State = StateActive
	s.active[id] = now.Add(s.opts.lease)

	msg := rec.Message
	msg.Body = slices.Clone(rec.Body)
	return &msg, nil
}

// promoteLocked moves due delayed jobs and expired leases back onto the wait list
func (s *MemoryStore) promoteLocked(now time.Time) {
	var due []string
	kept := s.delayed[:0]
	for _, id := range s.delayed {
		if !s.records[id].RunAt.After(now) {
			due = append(due, id)
		} else {
			kept = append(kept, id)
		}
	}
	s.delayed = kept
	sort.SliceStable(due, func(i, j int) bool {
		return s.records[due[i]].RunAt.Before(s.records[due[j]].RunAt)
	})
	for _, id := range due {
		s.records[id].State = StateWaiting
	}
	s.waiting = append(s.waiting, due...)

	var expired []string
	for id, deadline := range s.active {
		if !deadline.After(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		delete(s.active, id)
		s.records[id].State = StateWaiting
	}
	// Redelivered jobs go to the front
	s.waiting = append(expired, s.waiting...)
}

func (s *MemoryStore) Complete(ctx context.Context, msg *Message) error {
	return s.finish(msg, StateCompleted, "")
}

func (s *MemoryStore) Fail(ctx context.Context, msg *Message, reason string) error {
	return s.finish(msg, StateFailed, reason)
}

func (s *MemoryStore) finish(msg *Message, state State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[msg.ID]
	if !ok || rec.State == StateCompleted || rec.State == StateFailed {
		return nil
	}
	if rec.State == StateWaiting {
		// Lease expired and the job was requeued before this worker finished
		s.waiting = slices.DeleteFunc(s.waiting, func(id string) bool { return id == msg.ID })
	}
	delete(s.active, msg.ID)
	rec.State = state
	rec.FailedReason = reason
	rec.FinishedAt = s.opts.now()

	list, keep := &s.completed, s.opts.keepCompleted
	if state == StateFailed {
		list, keep = &s.failed, s.opts.keepFailed
	}
	*list = append([]string{msg.ID}, *list...)
	if len(*list) > keep {
		for _, old := range (*list)[keep:] {
			delete(s.records, old)
		}
		*list = (*list)[:keep]
	}
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Waiting:   int64(len(s.waiting)),
		Delayed:   int64(len(s.delayed)),
		Active:    int64(len(s.active)),
		Completed: int64(len(s.completed)),
		Failed:    int64(len(s.failed)),
	}, nil
}

// Records lists up to limit jobs in state; limit <= 0 means all.
// Finished states are newest first, waiting is claim order, delayed is by run time.
func (s *MemoryStore) Records(ctx context.Context, state State, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	switch state {
	case StateWaiting:
		ids = slices.Clone(s.waiting)
	case StateDelayed:
		ids = slices.Clone(s.delayed)
		sort.SliceStable(ids, func(i, j int) bool {
			return s.records[ids[i]].RunAt.Before(s.records[ids[j]].RunAt)
		})
	case StateActive:
		for id := range s.active {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	case StateCompleted:
		ids = slices.Clone(s.completed)
	case StateFailed:
		ids = slices.Clone(s.failed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec := *s.records[id]
		rec.Body = slices.Clone(rec.Body)
		out = append(out, rec)
	}
	return out, nil
}
