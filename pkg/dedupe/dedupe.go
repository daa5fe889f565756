// Package dedupe remembers recently settled requests so the watch loop does
// not re-dispatch a request the chain has not yet reflected as settled.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL covers the window between submitting a settlement and the chain
// view catching up.
const DefaultTTL = 5 * time.Minute

// Cache is the recently-settled set. Implementations are safe for concurrent
// use.
type Cache interface {
	// MarkSettled records id for ttl.
	MarkSettled(ctx context.Context, id string, ttl time.Duration) error
	// RecentlySettled reports whether id was marked within its ttl.
	RecentlySettled(ctx context.Context, id string) (bool, error)
}

// Memory is the in-process cache used when no Redis address is configured.
// Expiry is checked lazily on read and swept on write.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) MarkSettled(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, k)
		}
	}
	m.entries[id] = now.Add(ttl)
	return nil
}

func (m *Memory) RecentlySettled(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	if m.now().After(exp) {
		delete(m.entries, id)
		return false, nil
	}
	return true, nil
}
