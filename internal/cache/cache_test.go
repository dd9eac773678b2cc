package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// brokenBackend fails every call, like a Redis that went away.
type brokenBackend struct {
	calls atomic.Int32
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (b *brokenBackend) Get(context.Context, string) ([]byte, error) {
	b.calls.Add(1)
	return nil, errConnRefused
}

func (b *brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	b.calls.Add(1)
	return errConnRefused
}

func (b *brokenBackend) Delete(context.Context, string) error {
	b.calls.Add(1)
	return errConnRefused
}

func (b *brokenBackend) Flush(context.Context) error {
	b.calls.Add(1)
	return errConnRefused
}

func (b *brokenBackend) Ping(context.Context) error { return errConnRefused }

func newTestCache(t *testing.T) (*ResultCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c := New(NewMemoryBackend(WithClock(clock.Now)), WithLogger(zaptest.NewLogger(t)))
	return c, clock
}

func TestResultCache_SetThenGet(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "fare:r1:2:5:peak", []byte("75"), 10*time.Second)

	got, ok := c.Get(ctx, "fare:r1:2:5:peak")
	require.True(t, ok)
	assert.Equal(t, "75", string(got))

	clock.Advance(10 * time.Second)

	_, ok = c.Get(ctx, "fare:r1:2:5:peak")
	assert.False(t, ok, "entry must be absent once ttl has elapsed")
}

func TestResultCache_DefaultTTL(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)

	clock.Advance(DefaultTTL - time.Second)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok, "entry should survive until the default ttl")

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry should expire after the default ttl")
}

func TestResultCache_OverwriteResetsTTL(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), 10*time.Second)
	clock.Advance(8 * time.Second)
	c.Set(ctx, "k", []byte("new"), 10*time.Second)
	clock.Advance(8 * time.Second)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", string(got))
}

func TestResultCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Delete(ctx, "never-set")

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestResultCache_Clear(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	keys := []string{"fare:a:1:2:peak", "route:a", "location:t1"}
	for _, k := range keys {
		c.Set(ctx, k, []byte("v"), time.Minute)
	}

	c.Clear(ctx)

	for _, k := range keys {
		_, ok := c.Get(ctx, k)
		assert.False(t, ok, "key %s survived Clear", k)
	}
}

func TestResultCache_LookupStatuses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	assert.Equal(t, StatusMiss, c.Lookup(ctx, "k").Status)

	c.Set(ctx, "k", []byte("v"), time.Minute)
	assert.Equal(t, StatusHit, c.Lookup(ctx, "k").Status)

	broken := New(&brokenBackend{}, WithLogger(zaptest.NewLogger(t)))
	assert.Equal(t, StatusBackendUnavailable, broken.Lookup(ctx, "k").Status)
}

func TestResultCache_FailsOpenOnBackendFault(t *testing.T) {
	backend := &brokenBackend{}
	c := New(backend, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")
	c.Clear(ctx)

	got, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.EqualValues(t, 4, backend.calls.Load())
}

func TestResultCache_NotReadyIsNoop(t *testing.T) {
	c := New(nil, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	require.False(t, c.Ready())

	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	c.Delete(ctx, "k")
	c.Clear(ctx)

	c.Attach(NewMemoryBackend())
	require.True(t, c.Ready())

	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.True(t, ok)
}

func TestResultCache_ConcurrentDistinctKeys(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(ctx, fmt.Sprintf("key-%d", i), []byte(fmt.Sprint(i)), time.Minute)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got, ok := c.Get(ctx, fmt.Sprintf("key-%d", i))
		require.True(t, ok, "lost update for key-%d", i)
		assert.Equal(t, fmt.Sprint(i), string(got))
	}
}
