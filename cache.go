// Package shardpager merges the results of a query that was scattered across
// the shards of a partitioned dataset into one logical result set, served
// either as cursor-paginated pages or as a chunked multi-format export.
package shardpager

import (
	"context"
	"iter"
)

// Progress reports how far the partition workers of one query have got.
type Progress struct {
	// Fetched is the cumulative number of records appended across all partitions.
	Fetched int64
	// Total is the number of records expected once every worker has finished.
	Total int64
}

// Done reports whether every expected record has been fetched.
func (p Progress) Done() bool { return p.Fetched >= p.Total }

// PartitionCache is the read side of the shared cache that partition query
// workers populate. All methods are non-blocking; waiting is the caller's job.
// A non-nil error means the cache itself could not be read.
type PartitionCache interface {
	// Progress returns the progress counter of cacheKey. It returns false when
	// nothing was ever registered for the key.
	Progress(ctx context.Context, cacheKey string) (Progress, bool, error)
	// Records returns the records of one partition in append order. It returns
	// false while the partition has not produced results yet.
	Records(ctx context.Context, cacheKey, partitionKey string) ([]Record, bool, error)
	// Partitions returns every (partition key, records) pair of cacheKey in
	// the cache's own storage order. It returns false when the key has no
	// record mapping.
	Partitions(ctx context.Context, cacheKey string) (iter.Seq2[string, []Record], bool, error)
}

// FlatRecords presents a single flat record list as a one-partition sequence.
func FlatRecords(records []Record) iter.Seq2[string, []Record] {
	return func(yield func(string, []Record) bool) {
		yield("", records)
	}
}

// mappingSeq yields partitions in the order of keys.
func mappingSeq(keys []string, lists map[string][]Record) iter.Seq2[string, []Record] {
	return func(yield func(string, []Record) bool) {
		for _, k := range keys {
			if !yield(k, lists[k]) {
				return
			}
		}
	}
}
