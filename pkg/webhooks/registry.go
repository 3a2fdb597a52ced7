package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// EndpointStore is the endpoint registry. Implementations must be safe for
// concurrent use; RecordSuccess and RecordFailure must be atomic per endpoint.
type EndpointStore interface {
	// Create assigns a fresh id, activates the endpoint and zeroes its failure count
	Create(ctx context.Context, endpoint *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	// Update merges the partial update; it returns false when id is unknown
	Update(ctx context.Context, id string, update EndpointUpdate) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListByCompany(ctx context.Context, companyID string) ([]*Endpoint, error)
	List(ctx context.Context) ([]*Endpoint, error)
	// RecordSuccess sets the last delivery time and resets the failure count
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	// RecordFailure increments the failure count and deactivates the endpoint
	// once the count reaches threshold. It returns the updated endpoint.
	RecordFailure(ctx context.Context, id string, threshold int) (*Endpoint, error)
}

// NewEndpointID returns a fresh endpoint identifier
func NewEndpointID() string {
	return uuid.New().String()
}

// MemoryStore is an in-process EndpointStore
type MemoryStore struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	clock     clockwork.Clock
}

// NewMemoryStore creates an empty in-memory registry stamping creation times
// from clock. A nil clock uses real time.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		endpoints: make(map[string]*Endpoint),
		clock:     clock,
	}
}

func (s *MemoryStore) Create(ctx context.Context, endpoint *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint.ID = NewEndpointID()
	endpoint.Active = true
	endpoint.FailureCount = 0
	endpoint.LastDeliveryAt = nil
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = s.clock.Now()
	}

	s.endpoints[endpoint.ID] = endpoint.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, update EndpointUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[id]
	if !ok {
		return false, nil
	}
	update.Apply(e)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[id]; !ok {
		return false, nil
	}
	delete(s.endpoints, id)
	return true, nil
}

func (s *MemoryStore) ListByCompany(ctx context.Context, companyID string) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Endpoint
	for _, e := range s.endpoints {
		if e.CompanyID == companyID {
			result = append(result, e.Clone())
		}
	}
	sortEndpoints(result)
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		result = append(result, e.Clone())
	}
	sortEndpoints(result)
	return result, nil
}

func (s *MemoryStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[id]
	if !ok {
		return ErrEndpointNotFound
	}
	e.LastDeliveryAt = &at
	e.FailureCount = 0
	return nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, id string, threshold int) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	e.FailureCount++
	if threshold > 0 && e.FailureCount >= threshold {
		e.Active = false
	}
	return e.Clone(), nil
}

// sortEndpoints orders by creation time then id so listings are stable
func sortEndpoints(endpoints []*Endpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].CreatedAt.Equal(endpoints[j].CreatedAt) {
			return endpoints[i].ID < endpoints[j].ID
		}
		return endpoints[i].CreatedAt.Before(endpoints[j].CreatedAt)
	})
}
