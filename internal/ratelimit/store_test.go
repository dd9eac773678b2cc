package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matatu-gateway/internal/cache"
)

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newTestClock()
	s := NewMemoryStore(WithSweepClock(clock.Now))
	ctx := context.Background()

	_, _, _ = s.Hit(ctx, "location-update:a", time.Minute, 30, clock.Now())
	_, _, _ = s.Hit(ctx, "auth:a", time.Hour, 10, clock.Now())

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_StartJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newTestClock()
	s := NewMemoryStore(WithSweepClock(clock.Now))
	_, _, _ = s.Hit(ctx, "k", time.Second, 1, clock.Now())
	clock.Advance(time.Minute)

	s.StartJanitor(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "matatu"), mr
}

func TestRedisStore_FixedWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i := 1; i <= 30; i++ {
		w, ok, err := store.Hit(ctx, "location-update:driver-7", time.Minute, 30, now)
		require.NoError(t, err)
		require.True(t, ok, "hit %d", i)
		assert.Equal(t, i, w.Count)
	}

	w, ok, err := store.Hit(ctx, "location-update:driver-7", time.Minute, 30, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30, w.Count, "rejected hits must not grow the counter")
	assert.Equal(t, now.Add(time.Minute), w.ResetAt)
	assert.Equal(t, "30", mustGet(t, mr, "matatu:ratelimit:location-update:driver-7"))

	mr.FastForward(time.Minute)

	w, ok, err = store.Hit(ctx, "location-update:driver-7", time.Minute, 30, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, w.Count)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestRedisStore_ConcurrentHits(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Hit(ctx, "auth:10.0.0.1", time.Hour, 10, now)
			if err == nil && ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
}

func TestGovernor_RedisOutageFailsOpen(t *testing.T) {
	store, mr := newRedisStore(t)
	gov := NewGovernor(store, DefaultPolicies(),
		WithLogger(zaptest.NewLogger(t)),
		WithStoreTimeout(200*time.Millisecond),
	)
	ctx := context.Background()

	require.True(t, gov.Admit(ctx, "rider", ClassGeneral).Admitted)

	mr.Close()

	d := gov.Admit(ctx, "rider", ClassGeneral)
	assert.True(t, d.Admitted)
	assert.True(t, d.FailOpen)
}

func TestGovernor_SurvivesCacheClearOnSharedRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gov := NewGovernor(NewRedisStore(client, "matatu"), DefaultPolicies(), WithLogger(zaptest.NewLogger(t)))
	rc := cache.New(cache.NewRedisBackend(client, cache.RedisConfig{Prefix: "matatu"}))
	ctx := context.Background()

	rc.Set(ctx, cache.RouteKey("46"), []byte(`{"id":"46"}`), time.Minute)

	for i := 1; i <= 10; i++ {
		require.True(t, gov.Admit(ctx, "ip:41.90.1.2", ClassAuth).Admitted, "attempt %d", i)
	}
	require.False(t, gov.Admit(ctx, "ip:41.90.1.2", ClassAuth).Admitted)

	rc.Clear(ctx)

	_, ok := rc.Get(ctx, cache.RouteKey("46"))
	require.False(t, ok, "cache entries are cleared")

	d := gov.Admit(ctx, "ip:41.90.1.2", ClassAuth)
	assert.False(t, d.Admitted, "clearing the cache must not reset rate windows")
	assert.Equal(t, 0, d.Remaining)
	assert.False(t, d.FailOpen)
}
