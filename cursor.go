package shardpager

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor is the resumable position of a pagination session across partitions.
//
// A Cursor is owned by exactly one logical pagination session. It is mutated
// in place by Pager.Page, so concurrent calls sharing one Cursor are undefined.
type Cursor struct {
	// Collection and ShardID name the partition to read next.
	Collection string
	ShardID    string
	// FetchIndex is the next unread offset within that partition's records.
	FetchIndex int
	// Returned counts the records handed out so far in this session.
	Returned int64
	// End is set once the terminal partition has been fully consumed.
	End bool
}

// cursorState is the serialized form of a Cursor.
type cursorState struct {
	Collection string `json:"c"`
	ShardID    string `json:"s"`
	FetchIndex int    `json:"i"`
	Returned   int64  `json:"n,omitempty"`
	End        bool   `json:"e,omitempty"`
}

// NewCursor returns a cursor positioned at offset 0 of the first partition of order.
func NewCursor(order PartitionOrder) *Cursor {
	first := order.First()
	return &Cursor{Collection: first.Collection, ShardID: first.ShardID}
}

// CursorFromToken parses token, or starts a new session when token is empty.
// The parsed position must belong to order unless it is the end marker.
func CursorFromToken(token string, order PartitionOrder) (*Cursor, error) {
	if token == "" {
		return NewCursor(order), nil
	}
	c, err := ParseCursor(token)
	if err != nil {
		return nil, err
	}
	if !c.End && !order.Contains(c.Partition()) {
		return nil, fmt.Errorf("cursor partition %q is not part of the query", c.Partition().Key())
	}
	return &c, nil
}

// Partition returns the partition the cursor points at.
func (c Cursor) Partition() Partition {
	return Partition{Collection: c.Collection, ShardID: c.ShardID}
}

// String encodes the cursor into an opaque continuation token.
func (c Cursor) String() string {
	data, err := json.Marshal(cursorState{
		Collection: c.Collection,
		ShardID:    c.ShardID,
		FetchIndex: c.FetchIndex,
		Returned:   c.Returned,
		End:        c.End,
	})
	if err != nil {
		// cursorState only holds strings, ints and bools.
		panic(fmt.Sprintf("failed to encode cursor: %v", err))
	}
	return base64.URLEncoding.EncodeToString(data)
}

// ParseCursor decodes a token produced by Cursor.String.
func ParseCursor(token string) (Cursor, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to decode cursor: %w", err)
	}
	var state cursorState
	if err := json.Unmarshal(data, &state); err != nil {
		return Cursor{}, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	if state.FetchIndex < 0 {
		return Cursor{}, fmt.Errorf("invalid cursor: negative fetch index %d", state.FetchIndex)
	}
	if state.Returned < 0 {
		return Cursor{}, fmt.Errorf("invalid cursor: negative returned count %d", state.Returned)
	}
	if !state.End && (state.Collection == "" || state.ShardID == "") {
		return Cursor{}, fmt.Errorf("invalid cursor: missing partition")
	}
	return Cursor{
		Collection: state.Collection,
		ShardID:    state.ShardID,
		FetchIndex: state.FetchIndex,
		Returned:   state.Returned,
		End:        state.End,
	}, nil
}

// advance moves the cursor after reading a partition of size records up to
// (but excluding) offset next.
func (c *Cursor) advance(order PartitionOrder, next, size int) {
	if next < size {
		c.FetchIndex = next
		return
	}
	c.FetchIndex = 0
	p, ok := order.Next(c.Partition())
	if !ok {
		c.End = true
		return
	}
	c.Collection = p.Collection
	c.ShardID = p.ShardID
}
