package shardpager

import (
	"fmt"
	"strconv"
	"strings"
)

// partitionSep separates the collection from the shard id in a partition key.
const partitionSep = "#"

// Partition identifies one shard of one collection.
type Partition struct {
	Collection string
	ShardID    string
}

// Key returns the partition key used to address the partition in a PartitionCache.
func (p Partition) Key() string {
	return p.Collection + partitionSep + p.ShardID
}

func (p Partition) String() string { return p.Key() }

// ParsePartitionKey splits a partition key into its collection and shard id.
// The shard id is everything after the last separator, so collections may
// themselves contain the separator.
func ParsePartitionKey(key string) (Partition, error) {
	i := strings.LastIndex(key, partitionSep)
	if i <= 0 || i == len(key)-1 {
		return Partition{}, fmt.Errorf("invalid partition key %q", key)
	}
	return Partition{Collection: key[:i], ShardID: key[i+1:]}, nil
}

// PartitionOrder is a deterministic total order over the partitions of a query.
// Every partition except the terminal one has exactly one successor.
type PartitionOrder interface {
	// First returns the partition a fresh cursor starts at.
	First() Partition
	// Next returns the successor of p. It returns false when p is the terminal partition.
	Next(p Partition) (Partition, bool)
	// IsTerminal reports whether p is the last shard of the last collection.
	IsTerminal(p Partition) bool
	// Contains reports whether p is a member of the order.
	Contains(p Partition) bool
}

// ShardRangeOrder orders partitions by collection, in the order given, and
// within a collection by numeric shard id from MinShard to MaxShard inclusive.
type ShardRangeOrder struct {
	collections []string
	index       map[string]int
	minShard    int
	maxShard    int
}

// NewShardRangeOrder creates a ShardRangeOrder. The last collection is the
// "max collection" of the query; its MaxShard shard is the terminal partition.
func NewShardRangeOrder(collections []string, minShard, maxShard int) (*ShardRangeOrder, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("at least one collection is required")
	}
	if minShard > maxShard {
		return nil, fmt.Errorf("min shard %d greater than max shard %d", minShard, maxShard)
	}
	index := make(map[string]int, len(collections))
	for i, c := range collections {
		if c == "" {
			return nil, fmt.Errorf("empty collection name at position %d", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate collection %q", c)
		}
		index[c] = i
	}
	return &ShardRangeOrder{
		collections: append([]string(nil), collections...),
		index:       index,
		minShard:    minShard,
		maxShard:    maxShard,
	}, nil
}

// MaxCollection returns the last collection of the order.
func (o *ShardRangeOrder) MaxCollection() string {
	return o.collections[len(o.collections)-1]
}

// NextCollection returns the collection following c. It returns false for
// the max collection and for unknown collections.
func (o *ShardRangeOrder) NextCollection(c string) (string, bool) {
	i, ok := o.index[c]
	if !ok || i == len(o.collections)-1 {
		return "", false
	}
	return o.collections[i+1], true
}

// NextShard returns the shard id following id within the same collection.
// It returns false when id is the max shard or not a valid shard id.
func (o *ShardRangeOrder) NextShard(id string) (string, bool) {
	n, ok := o.shardNum(id)
	if !ok || n >= o.maxShard {
		return "", false
	}
	return strconv.Itoa(n + 1), true
}

func (o *ShardRangeOrder) shardNum(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	if err != nil || strconv.Itoa(n) != id {
		return 0, false
	}
	if n < o.minShard || n > o.maxShard {
		return 0, false
	}
	return n, true
}

func (o *ShardRangeOrder) First() Partition {
	return Partition{Collection: o.collections[0], ShardID: strconv.Itoa(o.minShard)}
}

func (o *ShardRangeOrder) Next(p Partition) (Partition, bool) {
	if !o.Contains(p) {
		return Partition{}, false
	}
	if shard, ok := o.NextShard(p.ShardID); ok {
		return Partition{Collection: p.Collection, ShardID: shard}, true
	}
	c, ok := o.NextCollection(p.Collection)
	if !ok {
		return Partition{}, false
	}
	return Partition{Collection: c, ShardID: strconv.Itoa(o.minShard)}, true
}

func (o *ShardRangeOrder) IsTerminal(p Partition) bool {
	return p.Collection == o.MaxCollection() && p.ShardID == strconv.Itoa(o.maxShard)
}

func (o *ShardRangeOrder) Contains(p Partition) bool {
	if _, ok := o.index[p.Collection]; !ok {
		return false
	}
	_, ok := o.shardNum(p.ShardID)
	return ok
}

// ListOrder is a PartitionOrder over an explicit list of partitions.
type ListOrder struct {
	partitions []Partition
	pos        map[Partition]int
}

// NewListOrder creates a ListOrder visiting partitions in the given order.
func NewListOrder(partitions ...Partition) (*ListOrder, error) {
	if len(partitions) == 0 {
		return nil, fmt.Errorf("at least one partition is required")
	}
	pos := make(map[Partition]int, len(partitions))
	for i, p := range partitions {
		if p.Collection == "" || p.ShardID == "" {
			return nil, fmt.Errorf("incomplete partition %q at position %d", p.Key(), i)
		}
		if _, dup := pos[p]; dup {
			return nil, fmt.Errorf("duplicate partition %q", p.Key())
		}
		pos[p] = i
	}
	return &ListOrder{partitions: append([]Partition(nil), partitions...), pos: pos}, nil
}

// ListOrderFromKeys creates a ListOrder from partition keys.
func ListOrderFromKeys(keys ...string) (*ListOrder, error) {
	partitions := make([]Partition, 0, len(keys))
	for _, k := range keys {
		p, err := ParsePartitionKey(k)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}
	return NewListOrder(partitions...)
}

func (o *ListOrder) First() Partition { return o.partitions[0] }

func (o *ListOrder) Next(p Partition) (Partition, bool) {
	i, ok := o.pos[p]
	if !ok || i == len(o.partitions)-1 {
		return Partition{}, false
	}
	return o.partitions[i+1], true
}

func (o *ListOrder) IsTerminal(p Partition) bool {
	return p == o.partitions[len(o.partitions)-1]
}

func (o *ListOrder) Contains(p Partition) bool {
	_, ok := o.pos[p]
	return ok
}
