// Package ticketcache maps candidate ids to their ticket channel ids. It is
// an optimization only: a miss or a cache error never fails a caller, the
// application store stays authoritative.
package ticketcache

import (
	"context"
	"sync"
)

// Cache is the channel-handle cache shared by the provisioner and the relay.
type Cache interface {
	Get(ctx context.Context, candidateID string) (channelID string, ok bool)
	Set(ctx context.Context, candidateID, channelID string)
	Invalidate(ctx context.Context, candidateID string)
}

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, candidateID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[candidateID]
	return id, ok
}

func (m *Memory) Set(_ context.Context, candidateID, channelID string) {
	if candidateID == "" || channelID == "" {
		return
	}
	m.mu.Lock()
	m.entries[candidateID] = channelID
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, candidateID string) {
	m.mu.Lock()
	delete(m.entries, candidateID)
	m.mu.Unlock()
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
