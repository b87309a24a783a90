package matchmaker

import (
	"context"
	"sync"
	"time"

	"github.com/mediline/consult/internal/models"
)

// MemoryRegistry is a mutex-guarded in-process Registry for single-node
// deployments and tests. The lock spans the whole evict+match-or-insert
// step, which is what makes concurrent registration race-free.
type MemoryRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	queues  map[string]map[string]time.Time
	results map[string]models.MatchResult
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		ttl:     ttl,
		now:     time.Now,
		queues:  make(map[string]map[string]time.Time),
		results: make(map[string]models.MatchResult),
	}
}

func (r *MemoryRegistry) MatchOrAdd(ctx context.Context, queue, endpointID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.queues[queue]
	if !ok {
		pool = make(map[string]time.Time)
		r.queues[queue] = pool
	}

	now := r.now()
	cutoff := now.Add(-r.ttl)
	for id, registeredAt := range pool {
		if registeredAt.Before(cutoff) {
			delete(pool, id)
		}
	}

	// Oldest live waiter other than the caller wins.
	var partnerID string
	var partnerAt time.Time
	for id, registeredAt := range pool {
		if id == endpointID {
			continue
		}
		if partnerID == "" || registeredAt.Before(partnerAt) {
			partnerID = id
			partnerAt = registeredAt
		}
	}
	if partnerID != "" {
		delete(pool, partnerID)
		delete(pool, endpointID)
		return partnerID, true, nil
	}

	pool[endpointID] = now
	return "", false, nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, queue, endpointID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.queues[queue]
	if !ok {
		return false, nil
	}
	if _, exists := pool[endpointID]; !exists {
		return false, nil
	}
	delete(pool, endpointID)
	return true, nil
}

func (r *MemoryRegistry) Deliver(ctx context.Context, endpointID string, res models.MatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[endpointID] = res
	return nil
}

func (r *MemoryRegistry) Take(ctx context.Context, endpointID string) (models.MatchResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[endpointID]
	if ok {
		delete(r.results, endpointID)
	}
	return res, ok, nil
}
