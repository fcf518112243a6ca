package bot

import (
	"context"
	"sync"
)

// Registry stores bots. Implementations must be safe for concurrent use.
type Registry interface {
	Put(ctx context.Context, b Bot) error
	Get(ctx context.Context, id string) (Bot, error)
	GetByAPIKey(ctx context.Context, key string) (Bot, error)
	List(ctx context.Context) ([]Bot, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	bots  map[string]Bot
	byKey map[string]string // api key -> bot id
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		bots:  make(map[string]Bot),
		byKey: make(map[string]string),
	}
}

// Put implements Registry.
func (r *MemoryRegistry) Put(_ context.Context, b Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[b.ID]; ok {
		return ErrExists
	}
	r.bots[b.ID] = b
	r.byKey[b.APIKey] = b.ID
	return nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, id string) (Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[id]
	if !ok {
		return Bot{}, ErrNotFound
	}
	return b, nil
}

// GetByAPIKey implements Registry.
func (r *MemoryRegistry) GetByAPIKey(_ context.Context, key string) (Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return Bot{}, ErrNotFound
	}
	return r.bots[id], nil
}

// List implements Registry.
func (r *MemoryRegistry) List(_ context.Context) ([]Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	return out, nil
}
