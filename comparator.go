package shardpager

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Comparator is a function type that compares two elements.
// It returns:
//   - negative value if a < b
//   - zero if a == b
//   - positive value if a > b
type Comparator[T any] func(a, b T) int

// ReverseComparator returns a new comparator that reverses the order of cmp.
func ReverseComparator[T any](cmp Comparator[T]) Comparator[T] {
	return func(a, b T) int {
		return cmp(b, a)
	}
}

// CompareBy creates a comparator that extracts a comparable key from elements
// and compares them using the natural ordering of the key type.
func CompareBy[T any, K Ordered](keyFunc func(T) K) Comparator[T] {
	return func(a, b T) int {
		ka, kb := keyFunc(a), keyFunc(b)
		if ka < kb {
			return -1
		}
		if ka > kb {
			return 1
		}
		return 0
	}
}

// Ordered is a constraint that permits any ordered type.
type Ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 |
		~string
}

// ChainComparators combines multiple comparators into one.
// It applies each comparator in order until one returns a non-zero result.
func ChainComparators[T any](comparators ...Comparator[T]) Comparator[T] {
	return func(a, b T) int {
		for _, cmp := range comparators {
			if result := cmp(a, b); result != 0 {
				return result
			}
		}
		return 0
	}
}

// CompareField compares records by the value of one field. Numbers compare
// numerically, everything else by its text; records missing the field sort
// first.
func CompareField(name string) Comparator[Record] {
	return func(a, b Record) int {
		va, oka := a.Get(name)
		vb, okb := b.Get(name)
		switch {
		case !oka && !okb:
			return 0
		case !oka:
			return -1
		case !okb:
			return 1
		}
		return compareValues(va, vb)
	}
}

func compareValues(a, b json.RawMessage) int {
	na, oka := numberValue(a)
	nb, okb := numberValue(b)
	if oka && okb {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	return strings.Compare(valueText(a), valueText(b))
}

func numberValue(raw json.RawMessage) (float64, bool) {
	value, dataType, _, err := jsonparser.Get(raw)
	if err != nil || dataType != jsonparser.Number {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(value), 64)
	return f, err == nil
}
