package identity

import (
	"context"
	"sync"
	"time"

	"github.com/diewo77/clinic-invoices/internal/models"
)

// OperatorResolver loads an operator by id. A nil operator with a nil error
// means the operator does not exist.
type OperatorResolver interface {
	Resolve(ctx context.Context, id uint) (*models.Operator, error)
}

// CachedResolver wraps an OperatorResolver with TTL-based caching.
// This avoids hitting the database on every request.
type CachedResolver struct {
	inner OperatorResolver
	cache map[uint]*cacheEntry
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	operator  *models.Operator
	expiresAt time.Time
}

// NewCachedResolver wraps a resolver with caching.
// ttl is how long operators are cached before re-fetching.
func NewCachedResolver(inner OperatorResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		cache: make(map[uint]*cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Resolve returns the operator for id, using the cache if available.
// Missing operators are not cached.
func (r *CachedResolver) Resolve(ctx context.Context, id uint) (*models.Operator, error) {
	r.mu.RLock()
	entry, ok := r.cache[id]
	r.mu.RUnlock()

	if ok && r.now().Before(entry.expiresAt) {
		return entry.operator, nil
	}

	op, err := r.inner.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if op == nil {
		delete(r.cache, id)
	} else {
		r.cache[id] = &cacheEntry{operator: op, expiresAt: r.now().Add(r.ttl)}
	}
	r.mu.Unlock()
	return op, nil
}

// Invalidate removes an operator from the cache.
func (r *CachedResolver) Invalidate(id uint) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// InvalidateAll clears the entire cache.
func (r *CachedResolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[uint]*cacheEntry)
	r.mu.Unlock()
}
