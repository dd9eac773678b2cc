package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend. Expired entries are dropped
// lazily on Get and in bulk by Sweep.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	now   func() time.Time
}

type MemoryOption func(*MemoryBackend)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) { m.now = now }
}

func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	now := m.now()
	if !now.Before(entry.expiresAt) {
		m.mu.Lock()
		if e, exists := m.items[key]; exists && !now.Before(e.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores value until now+ttl. A non-positive ttl deletes the key.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil
	}

	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	expiresAt := m.now().Add(ttl)

	m.mu.Lock()
	m.items[key] = memoryEntry{
		value:     valueCopy,
		expiresAt: expiresAt,
	}
	m.mu.Unlock()

	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Flush(_ context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryBackend) Sweep() int {
	now := m.now()
	removed := 0

	m.mu.Lock()
	for k, v := range m.items {
		if !now.Before(v.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	m.mu.Unlock()

	return removed
}

// StartJanitor sweeps every interval until ctx is done.
func (m *MemoryBackend) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Len returns the number of stored entries, expired ones included until swept.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
