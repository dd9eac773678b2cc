package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routeSnapshot struct {
	ID       string  `json:"id"`
	BaseFare float64 `json:"base_fare"`
}

func TestJSONRoundTrip(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()

	SetJSON(ctx, c, RouteKey("r46"), routeSnapshot{ID: "r46", BaseFare: 50}, time.Minute)

	got, ok := GetJSON[routeSnapshot](ctx, c, RouteKey("r46"))
	require.True(t, ok)
	assert.Equal(t, routeSnapshot{ID: "r46", BaseFare: 50}, got)
}

func TestGetJSON_CorruptValueIsMiss(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()

	c.Set(ctx, "route:bad", []byte("{not json"), time.Minute)

	_, ok := GetJSON[routeSnapshot](ctx, c, "route:bad")
	assert.False(t, ok)
}

func TestSetJSON_EncodeFailureIsNoop(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()

	SetJSON(ctx, c, "k", make(chan int), time.Minute)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestGetOrCompute(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (int, error) {
		calls++
		return 75, nil
	}

	v, hit, err := GetOrCompute(ctx, c, "fare:r1:2:5:peak", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 75, v)

	v, hit, err = GetOrCompute(ctx, c, "fare:r1:2:5:peak", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 75, v)
	assert.Equal(t, 1, calls)
}

func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()
	boom := errors.New("catalog down")

	_, _, err := GetOrCompute(ctx, c, "k", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestGetOrCompute_WorksWithoutBackend(t *testing.T) {
	c := New(nil)

	v, hit, err := GetOrCompute(context.Background(), c, "k", time.Minute, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v)
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New(NewMemoryBackend())
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	const n = 10
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			started.Done()
			_, _, _ = GetOrCompute(ctx, c, "shared", time.Minute, compute)
		}()
	}
	started.Wait()
	// let every goroutine reach the shared call before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	_, ok := c.Get(ctx, "shared")
	assert.True(t, ok)
}

func TestGetOrCompute_LeaderCancelDoesNotFailFollowers(t *testing.T) {
	c := New(NewMemoryBackend())

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(entered)
		<-release
		return "quote", ctx.Err()
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := GetOrCompute(leaderCtx, c, "fare:46:0:2:peak", time.Minute, compute)
		leaderErr <- err
	}()
	<-entered

	type outcome struct {
		v   string
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		v, _, err := GetOrCompute(context.Background(), c, "fare:46:0:2:peak", time.Minute, compute)
		follower <- outcome{v, err}
	}()
	// let the follower join the in-flight call
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "quote", got.v)
	assert.Equal(t, int32(1), calls.Load())

	_, ok := c.Get(context.Background(), "fare:46:0:2:peak")
	assert.True(t, ok, "the shared result is still cached")
}

func TestGetOrCompute_ComputeTimeout(t *testing.T) {
	c := New(NewMemoryBackend(), WithComputeTimeout(20*time.Millisecond))

	_, _, err := GetOrCompute(context.Background(), c, "slow", time.Minute, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
