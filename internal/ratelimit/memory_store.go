package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	count  int
	start  time.Time
	window time.Duration
}

// MemoryStore keeps windows in process memory. Windows are shared by every
// caller of the store but not across replicas.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*windowState
	now     func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

// WithSweepClock sets the clock Sweep compares windows against.
func WithSweepClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*windowState),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, max int, now time.Time) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &windowState{count: 1, start: now, window: window}
		s.windows[key] = w
		return w.snapshot(), true, nil
	}

	if w.count >= max {
		return w.snapshot(), false, nil
	}
	w.count++
	return w.snapshot(), true, nil
}

func (w *windowState) snapshot() Window {
	return Window{Count: w.count, Start: w.start, ResetAt: w.start.Add(w.window)}
}

// Sweep drops windows that have already closed. A dropped window would
// have been restarted on its next hit anyway.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.windows {
		if now.Sub(w.start) >= w.window {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps every interval until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// Len returns the number of tracked windows, closed ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
