package shardpager

import (
	"context"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// LoggingCache wraps a PartitionCache and logs every read at debug level.
type LoggingCache struct {
	cache  PartitionCache
	logger logrus.FieldLogger
}

// NewLoggingCache creates a LoggingCache.
// If logger is nil, the logrus standard logger is used.
func NewLoggingCache(cache PartitionCache, logger logrus.FieldLogger) *LoggingCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LoggingCache{cache: cache, logger: logger.WithField("component", "partition-cache")}
}

func (l *LoggingCache) log(op, cacheKey string, start time.Time, found bool, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"op":        op,
		"cache_key": cacheKey,
		"found":     found,
		"elapsed":   time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Warn("cache read failed")
		return
	}
	entry.Debug("cache read")
}

func (l *LoggingCache) Progress(ctx context.Context, cacheKey string) (Progress, bool, error) {
	start := time.Now()
	p, ok, err := l.cache.Progress(ctx, cacheKey)
	l.log("progress", cacheKey, start, ok, err)
	return p, ok, err
}

func (l *LoggingCache) Records(ctx context.Context, cacheKey, partitionKey string) ([]Record, bool, error) {
	start := time.Now()
	records, ok, err := l.cache.Records(ctx, cacheKey, partitionKey)
	l.log("records:"+partitionKey, cacheKey, start, ok, err)
	return records, ok, err
}

func (l *LoggingCache) Partitions(ctx context.Context, cacheKey string) (iter.Seq2[string, []Record], bool, error) {
	start := time.Now()
	seq, ok, err := l.cache.Partitions(ctx, cacheKey)
	l.log("partitions", cacheKey, start, ok, err)
	return seq, ok, err
}

// RetryCache wraps a PartitionCache and retries reads that fail with an
// error. Absent results are not failures and are returned at once.
type RetryCache struct {
	cache      PartitionCache
	newBackOff func() backoff.BackOff
}

// NewRetryCache creates a RetryCache retrying up to maxRetries times with
// exponential backoff starting at initialWait.
func NewRetryCache(cache PartitionCache, maxRetries int, initialWait time.Duration) *RetryCache {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if initialWait <= 0 {
		initialWait = 100 * time.Millisecond
	}
	return &RetryCache{
		cache: cache,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initialWait
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, uint64(maxRetries))
		},
	}
}

func (r *RetryCache) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, backoff.WithContext(r.newBackOff(), ctx))
}

func (r *RetryCache) Progress(ctx context.Context, cacheKey string) (p Progress, ok bool, err error) {
	err = r.retry(ctx, func() (err error) {
		p, ok, err = r.cache.Progress(ctx, cacheKey)
		return err
	})
	return p, ok, err
}

func (r *RetryCache) Records(ctx context.Context, cacheKey, partitionKey string) (records []Record, ok bool, err error) {
	err = r.retry(ctx, func() (err error) {
		records, ok, err = r.cache.Records(ctx, cacheKey, partitionKey)
		return err
	})
	return records, ok, err
}

func (r *RetryCache) Partitions(ctx context.Context, cacheKey string) (seq iter.Seq2[string, []Record], ok bool, err error) {
	err = r.retry(ctx, func() (err error) {
		seq, ok, err = r.cache.Partitions(ctx, cacheKey)
		return err
	})
	return seq, ok, err
}

// RateLimitedCache wraps a PartitionCache and bounds the rate of reads, so
// many concurrent pollers cannot overload a shared remote cache.
type RateLimitedCache struct {
	cache   PartitionCache
	limiter *rate.Limiter
}

// NewRateLimitedCache creates a RateLimitedCache.
// requestsPerSecond specifies how many reads are allowed per second.
// burst specifies the maximum number of reads that can be made in a burst.
func NewRateLimitedCache(cache PartitionCache, requestsPerSecond float64, burst int) *RateLimitedCache {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = max(int(requestsPerSecond), 1)
	}
	return &RateLimitedCache{
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *RateLimitedCache) Progress(ctx context.Context, cacheKey string) (Progress, bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Progress{}, false, err
	}
	return r.cache.Progress(ctx, cacheKey)
}

func (r *RateLimitedCache) Records(ctx context.Context, cacheKey, partitionKey string) ([]Record, bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return r.cache.Records(ctx, cacheKey, partitionKey)
}

func (r *RateLimitedCache) Partitions(ctx context.Context, cacheKey string) (iter.Seq2[string, []Record], bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return r.cache.Partitions(ctx, cacheKey)
}
