package shardpager

import (
	"context"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingCache fails every read with err.
type failingCache struct {
	err error
}

func (f *failingCache) Progress(context.Context, string) (Progress, bool, error) {
	return Progress{}, false, f.err
}

func (f *failingCache) Records(context.Context, string, string) ([]Record, bool, error) {
	return nil, false, f.err
}

func (f *failingCache) Partitions(context.Context, string) (iter.Seq2[string, []Record], bool, error) {
	return nil, false, f.err
}

// flakyCache fails the first failures reads, then delegates.
type flakyCache struct {
	PartitionCache
	failures int32
	calls    atomic.Int32
}

func (f *flakyCache) fail() error {
	if f.calls.Add(1) <= f.failures {
		return assert.AnError
	}
	return nil
}

func (f *flakyCache) Progress(ctx context.Context, key string) (Progress, bool, error) {
	if err := f.fail(); err != nil {
		return Progress{}, false, err
	}
	return f.PartitionCache.Progress(ctx, key)
}

func (f *flakyCache) Records(ctx context.Context, key, pk string) ([]Record, bool, error) {
	if err := f.fail(); err != nil {
		return nil, false, err
	}
	return f.PartitionCache.Records(ctx, key, pk)
}

func (f *flakyCache) Partitions(ctx context.Context, key string) (iter.Seq2[string, []Record], bool, error) {
	if err := f.fail(); err != nil {
		return nil, false, err
	}
	return f.PartitionCache.Partitions(ctx, key)
}

func TestRetryCache(t *testing.T) {
	cache, _ := twoShards(t)
	flaky := &flakyCache{PartitionCache: cache, failures: 2}
	retry := NewRetryCache(flaky, 3, time.Millisecond)

	records, ok, err := retry.Records(context.Background(), "q", "A#0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, records, 3)
	assert.Equal(t, int32(3), flaky.calls.Load())

	// Absent results are not retried.
	_, ok, err = retry.Records(context.Background(), "q", "B#0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(4), flaky.calls.Load())
}

func TestRetryCacheGivesUp(t *testing.T) {
	cache, _ := twoShards(t)
	flaky := &flakyCache{PartitionCache: cache, failures: 100}
	retry := NewRetryCache(flaky, 2, time.Millisecond)

	_, _, err := retry.Progress(context.Background(), "q")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryCacheStopsOnCancel(t *testing.T) {
	flaky := &flakyCache{PartitionCache: NewMemoryCache(0), failures: 100}
	retry := NewRetryCache(flaky, 50, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := retry.Partitions(ctx, "q")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimitedCache(t *testing.T) {
	cache, _ := twoShards(t)
	limited := NewRateLimitedCache(cache, 50, 1)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, ok, err := limited.Progress(context.Background(), "q")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	// One token up front, then one every 20ms.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := limited.Records(ctx, "q", "A#0")
	assert.Error(t, err)
}

func TestLoggingCache(t *testing.T) {
	cache, _ := twoShards(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	logged := NewLoggingCache(cache, logger)

	seq, ok, err := logged.Partitions(context.Background(), "q")
	require.NoError(t, err)
	require.True(t, ok)
	var n int
	for _, list := range seq {
		n += len(list)
	}
	assert.Equal(t, 5, n)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "partitions", entry.Data["op"])
	assert.Equal(t, "q", entry.Data["cache_key"])
	assert.Equal(t, true, entry.Data["found"])

	failing := NewLoggingCache(&failingCache{err: assert.AnError}, logger)
	_, _, err = failing.Records(context.Background(), "q", "A#0")
	assert.ErrorIs(t, err, assert.AnError)
	entry = hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "records:A#0", entry.Data["op"])
}

func TestDecoratorsComposeUnderPager(t *testing.T) {
	cache, order := twoShards(t)
	opts, _ := testOptions(t)
	composed := NewLoggingCache(
		NewRateLimitedCache(
			NewRetryCache(&flakyCache{PartitionCache: cache, failures: 1}, 3, time.Millisecond),
			1000, 100),
		opts.Logger)

	pager := NewPager(composed, order, opts)
	page, err := pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: 10, RealReturnNum: 5}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, ids(page.Docs))
}
