package shardpager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheProducerFlow(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute)

	_, ok, err := cache.Progress(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = cache.Partitions(ctx, "q")
	assert.False(t, ok)

	assert.ErrorIs(t, cache.PutPartition("q", "A#0", nil), ErrKeyNotRegistered)
	assert.ErrorIs(t, cache.SetTotal("q", 1), ErrKeyNotRegistered)

	cache.Register("q", 5)
	p, ok, err := cache.Progress(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Progress{Total: 5}, p)

	// Registered but empty: the mapping exists and yields nothing.
	seq, ok, err := cache.Partitions(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	for range seq {
		t.Fatal("no partitions expected")
	}

	require.NoError(t, cache.PutPartition("q", "B#1", records(0, 2)))
	require.NoError(t, cache.PutPartition("q", "A#0", nil))
	require.NoError(t, cache.PutPartition("q", "A#1", records(2, 3)))
	assert.ErrorIs(t, cache.PutPartition("q", "A#1", records(0, 1)), ErrPartitionExists)

	p, _, _ = cache.Progress(ctx, "q")
	assert.Equal(t, Progress{Fetched: 5, Total: 5}, p)
	assert.True(t, p.Done())

	list, ok, err := cache.Records(ctx, "q", "A#0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	_, ok, _ = cache.Records(ctx, "q", "C#0")
	assert.False(t, ok)

	// Storage order is publication order.
	seq, _, _ = cache.Partitions(ctx, "q")
	var keys []string
	for k := range seq {
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"B#1", "A#0", "A#1"}, keys)

	require.NoError(t, cache.SetTotal("q", 8))
	p, _, _ = cache.Progress(ctx, "q")
	assert.False(t, p.Done())

	// Re-registering keeps published partitions.
	cache.Register("q", 5)
	p, _, _ = cache.Progress(ctx, "q")
	assert.Equal(t, Progress{Fetched: 5, Total: 5}, p)
}

func TestMemoryCacheSeqStopsEarly(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 3)
	for _, k := range []string{"A#0", "A#1", "A#2"} {
		require.NoError(t, cache.PutPartition("q", k, records(0, 1)))
	}
	seq, _, _ := cache.Partitions(context.Background(), "q")
	var n int
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	cache := NewMemoryCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Register("old", 1)
	now = now.Add(30 * time.Second)
	cache.Register("new", 1)
	assert.Equal(t, 2, cache.Len())

	now = now.Add(45 * time.Second)
	_, ok, _ := cache.Progress(ctx, "old")
	assert.False(t, ok, "expired entries are invisible")
	assert.ErrorIs(t, cache.PutPartition("old", "A#0", nil), ErrKeyNotRegistered)
	_, ok, _ = cache.Progress(ctx, "new")
	assert.True(t, ok)

	cache.EvictExpired()
	assert.Equal(t, 1, cache.Len())

	// Writes extend the lifetime.
	now = now.Add(10 * time.Second)
	require.NoError(t, cache.PutPartition("new", "A#0", nil))
	now = now.Add(50 * time.Second)
	_, ok, _ = cache.Progress(ctx, "new")
	assert.True(t, ok)

	cache.Delete("new")
	assert.Zero(t, cache.Len())

	cache.Register("a", 1)
	cache.Register("b", 1)
	cache.Clear()
	assert.Zero(t, cache.Len())
}

func TestMemoryCacheConcurrentProducers(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute)
	order, err := NewShardRangeOrder([]string{"c"}, 0, 31)
	require.NoError(t, err)
	cache.Register("q", 32*10)

	// The terminal shard is published up front; a missing terminal shard ends a page.
	require.NoError(t, cache.PutPartition("q", "c#31", records(0, 10)))
	var wg sync.WaitGroup
	for p := order.First(); !order.IsTerminal(p); p, _ = order.Next(p) {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			assert.NoError(t, cache.PutPartition("q", key, records(0, 10)))
		}(p.Key())
	}

	opts, _ := testOptions(t)
	page, err := NewPager(cache, order, opts).PageToken(ctx, PageRequest{CacheKey: "q", Rows: 1000, RealReturnNum: 320}, "")
	wg.Wait()
	require.NoError(t, err)
	assert.Len(t, page.Docs, 320)

	p, _, _ := cache.Progress(ctx, "q")
	assert.True(t, p.Done())
}
