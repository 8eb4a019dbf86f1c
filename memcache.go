package shardpager

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultCacheTTL = 30 * time.Minute

// ErrPartitionExists is returned when a partition's results are published twice.
var ErrPartitionExists = errors.New("partition already published")

// ErrKeyNotRegistered is returned when results are published for an unknown cache key.
var ErrKeyNotRegistered = errors.New("cache key not registered")

// MemoryCache is a process-wide in-memory PartitionCache. Partition workers
// publish into it through Register, PutPartition and SetTotal; pagers and
// exporters only read from it. Entries expire after the configured TTL.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*memEntry
}

// memEntry holds everything cached for one cache key.
type memEntry struct {
	progress   Progress
	partitions map[string][]Record
	// order lists partition keys in publication order.
	order     []string
	expiresAt time.Time
}

var _ PartitionCache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache whose entries live for ttl after their
// last write. If ttl is 0 or negative, a default TTL of 30 minutes is used.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memEntry),
	}
}

// Register creates the entry of cacheKey with the expected total record
// count. Registering an existing key only updates its total.
func (c *MemoryCache) Register(cacheKey string, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.live(cacheKey); ok {
		e.progress.Total = total
		e.expiresAt = c.now().Add(c.ttl)
		return
	}
	c.entries[cacheKey] = &memEntry{
		progress:   Progress{Total: total},
		partitions: make(map[string][]Record),
		expiresAt:  c.now().Add(c.ttl),
	}
}

// SetTotal updates the expected total record count of cacheKey.
func (c *MemoryCache) SetTotal(cacheKey string, total int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(cacheKey)
	if !ok {
		return errors.Wrap(ErrKeyNotRegistered, cacheKey)
	}
	e.progress.Total = total
	e.expiresAt = c.now().Add(c.ttl)
	return nil
}

// PutPartition publishes the complete result list of one partition and adds
// its length to the fetched counter. An empty list still marks the partition
// as produced. The slice must not be modified afterwards.
func (c *MemoryCache) PutPartition(cacheKey, partitionKey string, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(cacheKey)
	if !ok {
		return errors.Wrap(ErrKeyNotRegistered, cacheKey)
	}
	if _, dup := e.partitions[partitionKey]; dup {
		return errors.Wrapf(ErrPartitionExists, "%s/%s", cacheKey, partitionKey)
	}
	if records == nil {
		records = []Record{}
	}
	e.partitions[partitionKey] = records[:len(records):len(records)]
	e.order = append(e.order, partitionKey)
	e.progress.Fetched += int64(len(records))
	e.expiresAt = c.now().Add(c.ttl)
	return nil
}

// Delete drops everything cached for cacheKey.
func (c *MemoryCache) Delete(cacheKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey)
}

// Clear removes all cached entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memEntry)
}

// EvictExpired removes expired entries from the cache.
func (c *MemoryCache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cache keys held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// live returns the unexpired entry of cacheKey. Callers hold c.mu.
func (c *MemoryCache) live(cacheKey string) (*memEntry, bool) {
	e, ok := c.entries[cacheKey]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e, true
}

func (c *MemoryCache) Progress(_ context.Context, cacheKey string) (Progress, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(cacheKey)
	if !ok {
		return Progress{}, false, nil
	}
	return e.progress, true, nil
}

func (c *MemoryCache) Records(_ context.Context, cacheKey, partitionKey string) ([]Record, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(cacheKey)
	if !ok {
		return nil, false, nil
	}
	records, ok := e.partitions[partitionKey]
	return records, ok, nil
}

func (c *MemoryCache) Partitions(_ context.Context, cacheKey string) (iter.Seq2[string, []Record], bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(cacheKey)
	if !ok {
		return nil, false, nil
	}
	// Published lists are never modified, so a snapshot of the headers is enough.
	keys := append([]string(nil), e.order...)
	lists := make(map[string][]Record, len(keys))
	for _, k := range keys {
		lists[k] = e.partitions[k]
	}
	return mappingSeq(keys, lists), true, nil
}
