// Package rediscache implements a shardpager.PartitionCache on Redis, so that
// partition workers and pagers can run in different processes.
//
// Layout of one cache key K (hash tags keep a query on one cluster slot):
//
//	<prefix>{K}:progress      hash  fetched, total
//	<prefix>{K}:parts         list  partition keys in publication order
//	<prefix>{K}:part:<pkey>   string JSON array of the partition's records
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zhangzqs/shardpager-go"
)

const defaultPrefix = "shardpager:"

// Config for the Redis cache.
type Config struct {
	// Prefix is prepended to every key.
	Prefix string
	// TTL is applied to every key of a query on each write; 0 keeps keys forever.
	TTL     time.Duration
	Retries int
	Logger  logrus.FieldLogger
}

// Cache is a Redis-backed PartitionCache with the producer API used by
// partition workers.
type Cache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger logrus.FieldLogger
}

var _ shardpager.PartitionCache = (*Cache)(nil)

// Open connects to the Redis server at url (redis://, rediss:// or unix://).
// An address list "master,sentinel1,sentinel2" selects a sentinel failover client.
func Open(url string, conf Config) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %s", url, err)
	}

	var rdb redis.UniversalClient
	if strings.Contains(opt.Addr, ",") {
		var fopt redis.FailoverOptions
		ps := strings.Split(opt.Addr, ",")
		fopt.MasterName = ps[0]
		fopt.SentinelAddrs = ps[1:]
		for i, saddr := range fopt.SentinelAddrs {
			h, p, err := net.SplitHostPort(saddr)
			if err != nil {
				fopt.SentinelAddrs[i] = net.JoinHostPort(saddr, "26379")
			} else if p == "" {
				fopt.SentinelAddrs[i] = net.JoinHostPort(h, "26379")
			}
		}
		fopt.Username = opt.Username
		fopt.Password = opt.Password
		if fopt.Password == "" {
			fopt.Password = os.Getenv("REDIS_PASSWORD")
		}
		fopt.SentinelPassword = os.Getenv("SENTINEL_PASSWORD")
		fopt.DB = opt.DB
		fopt.TLSConfig = opt.TLSConfig
		fopt.MaxRetries = conf.Retries
		fopt.MinRetryBackoff = time.Millisecond * 100
		fopt.MaxRetryBackoff = time.Second * 10
		fopt.ReadTimeout = time.Second * 30
		fopt.WriteTimeout = time.Second * 5
		rdb = redis.NewFailoverClient(&fopt)
	} else {
		if opt.Password == "" {
			opt.Password = os.Getenv("REDIS_PASSWORD")
		}
		opt.MaxRetries = conf.Retries
		opt.MinRetryBackoff = time.Millisecond * 100
		opt.MaxRetryBackoff = time.Second * 10
		opt.ReadTimeout = time.Second * 30
		opt.WriteTimeout = time.Second * 5
		rdb = redis.NewClient(opt)
	}
	return New(rdb, conf), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, conf Config) *Cache {
	prefix := conf.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := conf.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		rdb:    rdb,
		prefix: prefix,
		ttl:    conf.TTL,
		logger: logger.WithField("component", "rediscache"),
	}
}

// Close closes the underlying client.
func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) base(cacheKey string) string { return c.prefix + "{" + cacheKey + "}" }

func (c *Cache) progressKey(cacheKey string) string { return c.base(cacheKey) + ":progress" }

func (c *Cache) partsKey(cacheKey string) string { return c.base(cacheKey) + ":parts" }

func (c *Cache) partKey(cacheKey, partitionKey string) string {
	return c.base(cacheKey) + ":part:" + partitionKey
}

func (c *Cache) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if c.ttl <= 0 {
		return
	}
	for _, k := range keys {
		pipe.Expire(ctx, k, c.ttl)
	}
}

// Register creates the progress counter of cacheKey with the expected total.
// Registering again only updates the total.
func (c *Cache) Register(ctx context.Context, cacheKey string, total int64) error {
	pk := c.progressKey(cacheKey)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, pk, "fetched", 0)
		pipe.HSet(ctx, pk, "total", total)
		c.expire(ctx, pipe, pk)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "register %s", cacheKey)
	}
	return nil
}

// SetTotal updates the expected total of a registered cache key.
func (c *Cache) SetTotal(ctx context.Context, cacheKey string, total int64) error {
	pk := c.progressKey(cacheKey)
	n, err := c.rdb.Exists(ctx, pk).Result()
	if err != nil {
		return errors.Wrapf(err, "set total of %s", cacheKey)
	}
	if n == 0 {
		return errors.Wrap(shardpager.ErrKeyNotRegistered, cacheKey)
	}
	return errors.Wrapf(c.rdb.HSet(ctx, pk, "total", total).Err(), "set total of %s", cacheKey)
}

// PutPartition publishes the complete result list of one partition and adds
// its length to the fetched counter, atomically.
func (c *Cache) PutPartition(ctx context.Context, cacheKey, partitionKey string, records []shardpager.Record) error {
	if records == nil {
		records = []shardpager.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return errors.Wrapf(err, "encode partition %s", partitionKey)
	}
	pk, lk, rk := c.progressKey(cacheKey), c.partsKey(cacheKey), c.partKey(cacheKey, partitionKey)

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		registered, err := tx.Exists(ctx, pk).Result()
		if err != nil {
			return err
		}
		if registered == 0 {
			return errors.Wrap(shardpager.ErrKeyNotRegistered, cacheKey)
		}
		published, err := tx.Exists(ctx, rk).Result()
		if err != nil {
			return err
		}
		if published > 0 {
			return errors.Wrapf(shardpager.ErrPartitionExists, "%s/%s", cacheKey, partitionKey)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, c.ttl)
			pipe.RPush(ctx, lk, partitionKey)
			pipe.HIncrBy(ctx, pk, "fetched", int64(len(records)))
			c.expire(ctx, pipe, pk, lk)
			return nil
		})
		return err
	}, pk, rk)
	if err != nil {
		return errors.Wrapf(err, "put partition %s", partitionKey)
	}
	return nil
}

// Delete drops every key of cacheKey.
func (c *Cache) Delete(ctx context.Context, cacheKey string) error {
	parts, err := c.rdb.LRange(ctx, c.partsKey(cacheKey), 0, -1).Result()
	if err != nil {
		return errors.Wrapf(err, "delete %s", cacheKey)
	}
	keys := []string{c.progressKey(cacheKey), c.partsKey(cacheKey)}
	for _, p := range parts {
		keys = append(keys, c.partKey(cacheKey, p))
	}
	return errors.Wrapf(c.rdb.Del(ctx, keys...).Err(), "delete %s", cacheKey)
}

func (c *Cache) Progress(ctx context.Context, cacheKey string) (shardpager.Progress, bool, error) {
	vals, err := c.rdb.HMGet(ctx, c.progressKey(cacheKey), "fetched", "total").Result()
	if err != nil {
		return shardpager.Progress{}, false, errors.Wrapf(err, "HMGET %s", c.progressKey(cacheKey))
	}
	if vals[0] == nil && vals[1] == nil {
		return shardpager.Progress{}, false, nil
	}
	fetched, err := parseCounter(vals[0])
	if err != nil {
		return shardpager.Progress{}, false, errors.Wrapf(err, "fetched of %s", cacheKey)
	}
	total, err := parseCounter(vals[1])
	if err != nil {
		return shardpager.Progress{}, false, errors.Wrapf(err, "total of %s", cacheKey)
	}
	return shardpager.Progress{Fetched: fetched, Total: total}, true, nil
}

func parseCounter(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("unexpected counter value %v", v)
}

func (c *Cache) Records(ctx context.Context, cacheKey, partitionKey string) ([]shardpager.Record, bool, error) {
	data, err := c.rdb.Get(ctx, c.partKey(cacheKey, partitionKey)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "GET %s", c.partKey(cacheKey, partitionKey))
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "partition %s", partitionKey)
	}
	return records, true, nil
}

func decodeRecords(data []byte) ([]shardpager.Record, error) {
	var records []shardpager.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []shardpager.Record{}
	}
	return records, nil
}

// Partitions loads every published partition of cacheKey. The mapping
// exists as soon as the key is registered.
func (c *Cache) Partitions(ctx context.Context, cacheKey string) (iter.Seq2[string, []shardpager.Record], bool, error) {
	registered, err := c.rdb.Exists(ctx, c.progressKey(cacheKey)).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "EXISTS %s", c.progressKey(cacheKey))
	}
	if registered == 0 {
		return nil, false, nil
	}
	parts, err := c.rdb.LRange(ctx, c.partsKey(cacheKey), 0, -1).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "LRANGE %s", c.partsKey(cacheKey))
	}
	lists := make(map[string][]shardpager.Record, len(parts))
	if len(parts) > 0 {
		keys := make([]string, len(parts))
		for i, p := range parts {
			keys[i] = c.partKey(cacheKey, p)
		}
		vals, err := c.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, false, errors.Wrapf(err, "MGET partitions of %s", cacheKey)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				c.logger.WithFields(logrus.Fields{
					"cache_key": cacheKey,
					"partition": parts[i],
				}).Warn("partition listed but its records are gone")
				return nil, false, nil
			}
			records, err := decodeRecords([]byte(s))
			if err != nil {
				return nil, false, errors.Wrapf(err, "partition %s", parts[i])
			}
			lists[parts[i]] = records
		}
	}
	return func(yield func(string, []shardpager.Record) bool) {
		for _, p := range parts {
			if !yield(p, lists[p]) {
				return
			}
		}
	}, true, nil
}
