package shardpager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// records returns n records with ids from..from+n-1.
func records(from, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = NewRecord(MustField("id", from+i), MustField("name", fmt.Sprintf("r%d", from+i)))
	}
	return out
}

func ids(docs []Record) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text("id")
	}
	return out
}

func testOptions(t *testing.T) (Options, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := DefaultOptions()
	opts.QueryTimeout = 2 * time.Second
	opts.PollInterval = 5 * time.Millisecond
	opts.Logger = logger
	opts.Metrics = NewMetrics(prometheus.NewRegistry())
	return opts, hook
}

func mustListOrder(t *testing.T, keys ...string) *ListOrder {
	order, err := ListOrderFromKeys(keys...)
	require.NoError(t, err)
	return order
}

// twoShards caches A#0 with ids 0..2 and the terminal A#1 with ids 3..4.
func twoShards(t *testing.T) (*MemoryCache, *ListOrder) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 5)
	require.NoError(t, cache.PutPartition("q", "A#0", records(0, 3)))
	require.NoError(t, cache.PutPartition("q", "A#1", records(3, 2)))
	return cache, mustListOrder(t, "A#0", "A#1")
}

func TestPagerSpansPartitions(t *testing.T) {
	cache, order := twoShards(t)
	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)

	cursor := NewCursor(order)
	page, err := pager.Page(context.Background(), PageRequest{CacheKey: "q", Rows: 4, RealReturnNum: 5}, cursor)
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2", "3"}, ids(page.Docs))
	assert.Equal(t, int64(5), page.Nums)
	assert.True(t, page.HasMore)
	assert.Equal(t, "A", cursor.Collection)
	assert.Equal(t, "1", cursor.ShardID)
	assert.Equal(t, 1, cursor.FetchIndex)

	parsed, err := ParseCursor(page.NextCursorMark)
	require.NoError(t, err)
	assert.Equal(t, *cursor, parsed)

	page, err = pager.Page(context.Background(), PageRequest{CacheKey: "q", Rows: 4, RealReturnNum: 5}, cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, ids(page.Docs))
	assert.False(t, page.HasMore)
	assert.True(t, cursor.End)

	// An exhausted cursor keeps returning empty pages.
	page, err = pager.Page(context.Background(), PageRequest{CacheKey: "q", Rows: 4, RealReturnNum: 5}, cursor)
	require.NoError(t, err)
	assert.Empty(t, page.Docs)
	assert.False(t, page.HasMore)
}

func TestPagerFullPagination(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	order, err := NewShardRangeOrder([]string{"c1", "c2"}, 0, 2)
	require.NoError(t, err)

	sizes := map[string]int{"c1#0": 4, "c1#1": 0, "c1#2": 7, "c2#0": 1, "c2#1": 5, "c2#2": 3}
	var total int
	keys := []string{"c1#0", "c1#1", "c1#2", "c2#0", "c2#1", "c2#2"}
	cache.Register("q", 20)
	for _, k := range keys {
		require.NoError(t, cache.PutPartition("q", k, records(total, sizes[k])))
		total += sizes[k]
	}
	require.Equal(t, 20, total)

	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)

	for _, rows := range []int{1, 3, 6, 20, 50} {
		t.Run(fmt.Sprintf("rows=%d", rows), func(t *testing.T) {
			var got []string
			token := ""
			for i := 0; i < 100; i++ {
				page, err := pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: rows, RealReturnNum: 20}, token)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Docs), rows)
				got = append(got, ids(page.Docs)...)
				token = page.NextCursorMark
				if !page.HasMore {
					break
				}
			}
			want := ids(records(0, 20))
			assert.Equal(t, want, got)
		})
	}
}

func TestPagerRealReturnNumCapsSession(t *testing.T) {
	cache, order := twoShards(t)
	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)

	req := PageRequest{CacheKey: "q", Rows: 2, RealReturnNum: 3}
	page, err := pager.PageToken(context.Background(), req, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids(page.Docs))
	assert.True(t, page.HasMore)

	page, err = pager.PageToken(context.Background(), req, page.NextCursorMark)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(page.Docs))
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(3), page.Nums)

	page, err = pager.PageToken(context.Background(), req, page.NextCursorMark)
	require.NoError(t, err)
	assert.Empty(t, page.Docs)
}

func TestPagerWaitsForLateProducer(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 5)
	order := mustListOrder(t, "A#0", "A#1")
	// Terminal partition first; A#0 arrives later.
	require.NoError(t, cache.PutPartition("q", "A#1", records(3, 2)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, cache.PutPartition("q", "A#0", records(0, 3)))
	}()

	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)
	start := time.Now()
	page, err := pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: 10, RealReturnNum: 5}, "")
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, ids(page.Docs))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Positive(t, testutil.ToFloat64(opts.Metrics.PollWaits.WithLabelValues(modeDisplay)))
}

func TestPagerTimesOutOnMissingPartition(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 5)
	order := mustListOrder(t, "A#0", "A#1")
	require.NoError(t, cache.PutPartition("q", "A#1", records(0, 2)))

	opts, hook := testOptions(t)
	opts.QueryTimeout = 60 * time.Millisecond
	pager := NewPager(cache, order, opts)

	cursor := NewCursor(order)
	_, err := pager.Page(context.Background(), PageRequest{CacheKey: "q", Rows: 10, RealReturnNum: 5}, cursor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryTimeout)
	assert.Equal(t, KindQueryTimeout, KindOf(err))
	assert.Contains(t, err.Error(), "greater than 60ms, it is timeout")

	// The cursor still points at the missing partition.
	assert.Equal(t, "A#0", cursor.Partition().Key())
	assert.Zero(t, cursor.FetchIndex)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			logged = true
		}
	}
	assert.True(t, logged, "timeout is logged")
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.Requests.WithLabelValues(modeDisplay, string(KindQueryTimeout))))
}

func TestPagerEmptyTerminalPartition(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 2)
	order := mustListOrder(t, "A#0", "A#1")
	require.NoError(t, cache.PutPartition("q", "A#0", records(0, 2)))

	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)

	// The terminal partition never arrives: the page ends without waiting.
	start := time.Now()
	page, err := pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: 10, RealReturnNum: 5}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids(page.Docs))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, page.HasMore)

	// Published empty, the terminal partition ends the session.
	require.NoError(t, cache.PutPartition("q", "A#1", nil))
	page, err = pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: 10, RealReturnNum: 5}, page.NextCursorMark)
	require.NoError(t, err)
	assert.Empty(t, page.Docs)
	assert.False(t, page.HasMore)
}

func TestPagerSort(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 4)
	order := mustListOrder(t, "A#0", "A#1")
	require.NoError(t, cache.PutPartition("q", "A#0", []Record{
		NewRecord(MustField("id", 1), MustField("price", 30)),
		NewRecord(MustField("id", 2), MustField("price", 10)),
	}))
	require.NoError(t, cache.PutPartition("q", "A#1", []Record{
		NewRecord(MustField("id", 3), MustField("price", 20)),
		NewRecord(MustField("id", 4), MustField("price", 10)),
	}))

	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)
	page, err := pager.PageToken(context.Background(), PageRequest{
		CacheKey:      "q",
		Rows:          10,
		RealReturnNum: 4,
		Sort:          []SortField{{Name: "price", Desc: true}, {Name: "id"}},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "2", "4"}, ids(page.Docs))
}

func TestPagerInvalidRequests(t *testing.T) {
	cache, order := twoShards(t)
	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   PageRequest
		token string
	}{
		{"missing cache key", PageRequest{Rows: 1, RealReturnNum: 1}, ""},
		{"zero rows", PageRequest{CacheKey: "q", RealReturnNum: 1}, ""},
		{"negative cap", PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: -1}, ""},
		{"garbage token", PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: 1}, "!!!"},
		{"foreign partition", PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: 1}, Cursor{Collection: "B", ShardID: "0"}.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pager.PageToken(ctx, tt.req, tt.token)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := pager.Page(ctx, PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPagerCancellation(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Register("q", 1)
	order := mustListOrder(t, "A#0", "A#1")

	opts, _ := testOptions(t)
	opts.QueryTimeout = 10 * time.Second
	opts.PollInterval = time.Second
	pager := NewPager(cache, order, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := pager.PageToken(ctx, PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: 1}, "")
	assert.ErrorIs(t, err, ErrQueryTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPagerCacheUnavailable(t *testing.T) {
	order := mustListOrder(t, "A#0")
	opts, _ := testOptions(t)
	pager := NewPager(&failingCache{err: assert.AnError}, order, opts)

	_, err := pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: 1}, "")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPagerRender(t *testing.T) {
	cache, order := twoShards(t)
	opts, _ := testOptions(t)
	pager := NewPager(cache, order, opts)

	page, err := pager.PageToken(context.Background(), PageRequest{CacheKey: "q", Rows: 1, RealReturnNum: 5}, "")
	require.NoError(t, err)
	data, err := pager.Render(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{"responseHeader":{"status":0,"QTime":0},"response":{"nums":5,"docs":[{"id":0,"name":"r0"}],"nextCursorMark":"`+page.NextCursorMark+`"}}`, string(data))
}
