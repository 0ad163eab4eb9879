package storage

import (
	"fmt"
	"slices"
	"strings"
)

// RowKey identifies a logical row. Keys are totally ordered and only compared
// by the engine; the storage layer owns their assignment.
type RowKey int64

// RowSet is an immutable sorted set of row keys.
type RowSet struct {
	keys []RowKey
}

// NewRowSet builds a set from keys in any order. Duplicates are dropped.
func NewRowSet(keys ...RowKey) RowSet {
	if len(keys) == 0 {
		return RowSet{}
	}
	out := slices.Clone(keys)
	slices.Sort(out)
	return RowSet{keys: slices.Compact(out)}
}

// RangeSet returns the set of every key in [lo, hi].
func RangeSet(lo, hi RowKey) RowSet {
	if hi < lo {
		return RowSet{}
	}
	out := make([]RowKey, 0, hi-lo+1)
	for k := lo; k <= hi; k++ {
		out = append(out, k)
	}
	return RowSet{keys: out}
}

func (s RowSet) Len() int       { return len(s.keys) }
func (s RowSet) IsEmpty() bool  { return len(s.keys) == 0 }
func (s RowSet) Keys() []RowKey { return s.keys }

// Contains reports whether k is in the set.
func (s RowSet) Contains(k RowKey) bool {
	_, ok := slices.BinarySearch(s.keys, k)
	return ok
}

// Union returns the keys present in either set.
func (s RowSet) Union(o RowSet) RowSet {
	switch {
	case o.IsEmpty():
		return s
	case s.IsEmpty():
		return o
	}
	out := make([]RowKey, 0, len(s.keys)+len(o.keys))
	i, j := 0, 0
	for i < len(s.keys) && j < len(o.keys) {
		switch {
		case s.keys[i] < o.keys[j]:
			out = append(out, s.keys[i])
			i++
		case s.keys[i] > o.keys[j]:
			out = append(out, o.keys[j])
			j++
		default:
			out = append(out, s.keys[i])
			i++
			j++
		}
	}
	out = append(out, s.keys[i:]...)
	out = append(out, o.keys[j:]...)
	return RowSet{keys: out}
}

// Minus returns the keys of s that are not in o.
func (s RowSet) Minus(o RowSet) RowSet {
	if s.IsEmpty() || o.IsEmpty() {
		return s
	}
	out := make([]RowKey, 0, len(s.keys))
	for _, k := range s.keys {
		if !o.Contains(k) {
			out = append(out, k)
		}
	}
	return RowSet{keys: out}
}

func (s RowSet) String() string {
	parts := make([]string, len(s.keys))
	for i, k := range s.keys {
		parts[i] = fmt.Sprint(int64(k))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
