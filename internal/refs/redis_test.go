package refs

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounter(client, "refs"), mr
}

func TestRedisCounterConcurrentAllocation(t *testing.T) {
	counter, mr := newRedisCounter(t)
	a := NewAllocator(counter)

	const n = 100
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := a.Allocate(context.Background(), "WH", "IN")
			assert.NoError(t, err)
			_, dup := seen.LoadOrStore(ref, true)
			assert.False(t, dup, ref)
		}()
	}
	wg.Wait()

	got, err := mr.Get("refs:WH:IN")
	require.NoError(t, err)
	require.Equal(t, "100", got)
}

func TestRedisCounterSeed(t *testing.T) {
	counter, _ := newRedisCounter(t)
	ctx := context.Background()
	require.NoError(t, counter.Seed(ctx, "WH", "OUT", 41))
	next, err := counter.Next(ctx, "WH", "OUT")
	require.NoError(t, err)
	require.EqualValues(t, 42, next)

	require.NoError(t, counter.Seed(ctx, "WH", "OUT", 5))
	next, err = counter.Next(ctx, "WH", "OUT")
	require.NoError(t, err)
	require.EqualValues(t, 43, next)
}

func TestRedisCounterUnavailable(t *testing.T) {
	counter, mr := newRedisCounter(t)
	mr.Close()
	_, err := NewAllocator(counter).Allocate(context.Background(), "WH", "IN")
	require.Error(t, err)
}
