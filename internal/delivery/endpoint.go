package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"
)

var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
)

// Endpoint is a tenant-registered destination for webhook deliveries.
// An empty Events set subscribes to every event type.
type Endpoint struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscribes reports whether the endpoint wants eventType
func (e Endpoint) Subscribes(eventType string) bool {
	return len(e.Events) == 0 || slices.Contains(e.Events, eventType)
}

// ValidateEndpoint catches configuration errors before an endpoint is stored.
// The signer itself never checks the secret.
func ValidateEndpoint(e Endpoint) error {
	if e.Secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidEndpoint)
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s), got %q", ErrInvalidEndpoint, e.URL)
	}
	for _, ev := range e.Events {
		if ev == "" {
			return fmt.Errorf("%w: empty event type in subscription", ErrInvalidEndpoint)
		}
	}
	return nil
}

// EndpointLister resolves a tenant's active endpoints at dispatch time
type EndpointLister interface {
	ListActiveEndpoints(ctx context.Context, tenantID string) ([]Endpoint, error)
}

// EndpointGetter resolves a single endpoint at attempt time.
// Implementations return ErrEndpointNotFound when it no longer exists.
type EndpointGetter interface {
	GetEndpoint(ctx context.Context, id string) (Endpoint, error)
}

type EndpointRegistry interface {
	EndpointLister
	EndpointGetter
}

// MemoryRegistry is an in-process EndpointRegistry
type MemoryRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	order     []string
}

func NewMemoryRegistry(endpoints ...Endpoint) *MemoryRegistry {
	r := &MemoryRegistry{endpoints: make(map[string]Endpoint)}
	for _, e := range endpoints {
		r.Put(e)
	}
	return r
}

// Put inserts or replaces an endpoint
func (r *MemoryRegistry) Put(e Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[e.ID]; !ok {
		r.order = append(r.order, e.ID)
	}
	e.Events = slices.Clone(e.Events)
	r.endpoints[e.ID] = e
}

func (r *MemoryRegistry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok {
		return ErrEndpointNotFound
	}
	e.Active = active
	r.endpoints[id] = e
	return nil
}

func (r *MemoryRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

func (r *MemoryRegistry) ListActiveEndpoints(ctx context.Context, tenantID string) ([]Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Endpoint
	for _, id := range r.order {
		e := r.endpoints[id]
		if e.TenantID == tenantID && e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) GetEndpoint(ctx context.Context, id string) (Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	if !ok {
		return Endpoint{}, ErrEndpointNotFound
	}
	return e, nil
}
