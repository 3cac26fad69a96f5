package registry

import (
	"context"
	"sync"
)

// StaticRegistry is a thread-safe in-memory registry, usually seeded from
// configuration. It suits small deployments where the source population is
// known up front.
type StaticRegistry struct {
	mu      sync.RWMutex
	sources map[string]SourceInfo
}

// NewStaticRegistry builds a registry from the given entries.
func NewStaticRegistry(sources map[string]SourceInfo) *StaticRegistry {
	copied := make(map[string]SourceInfo, len(sources))
	for k, v := range sources {
		copied[k] = v
	}
	return &StaticRegistry{sources: copied}
}

// Fetch implements the Fetcher interface.
func (r *StaticRegistry) Fetch(_ context.Context, sourceID string) (SourceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sources[sourceID]
	if !ok {
		return SourceInfo{}, ErrNotFound
	}
	return info, nil
}

// Put adds or replaces an entry.
func (r *StaticRegistry) Put(info SourceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[info.SourceID] = info
}

// Close implements the Fetcher interface.
func (r *StaticRegistry) Close() error { return nil }
