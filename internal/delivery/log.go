package delivery

import (
	"context"
	"slices"
	"sync"
	"time"
)

// LogEntry records one attempt. Entries are never updated or deleted.
type LogEntry struct {
	DeliveryID string      `json:"delivery_id"`
	TenantID   string      `json:"tenant_id"`
	EndpointID string      `json:"endpoint_id"`
	EventType  string      `json:"event_type"`
	Attempt    int         `json:"attempt"`
	Outcome    OutcomeKind `json:"outcome"`
	HTTPStatus int         `json:"http_status"`
	Error      string      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}

// DeliveryLog is the append-only attempt audit trail. Nothing in the
// pipeline reads it back.
type DeliveryLog interface {
	Record(ctx context.Context, entry LogEntry) error
}

// MemoryLog keeps entries in memory in arrival order
type MemoryLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Record(ctx context.Context, entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}
