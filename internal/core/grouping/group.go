package grouping

import (
	"math"
	"slices"

	"github.com/google/btree"

	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// Slot is the stable arena index of a group. Slots of torn-down groups are reused.
type Slot int32

// Stamp is one timestamp cell of a row.
type Stamp struct {
	TS    int64
	Valid bool
}

// Times holds a row's timestamps aligned with the index's timestamp columns.
// A Times value is never mutated once stored.
type Times []Stamp

// TimeEntry is a row in timestamp order.
type TimeEntry struct {
	TS  int64
	Key storage.RowKey
}

type member struct {
	key   storage.RowKey
	times Times
}

func lessMember(a, b member) bool { return a.key < b.key }

func lessTime(a, b TimeEntry) bool {
	if a.TS != b.TS {
		return a.TS < b.TS
	}
	return a.Key < b.Key
}

// Group is one group's ordered row set. Groups read from an Index or a Txn
// must not be retained across commits.
type Group struct {
	key   value.GroupKey
	slot  Slot
	rows  *btree.BTreeG[member]
	times []*btree.BTreeG[TimeEntry]
}

func newGroup(degree int, key value.GroupKey, slot Slot, tsColumns int) *Group {
	g := &Group{
		key:   key,
		slot:  slot,
		rows:  btree.NewG(degree, lessMember),
		times: make([]*btree.BTreeG[TimeEntry], tsColumns),
	}
	for i := range g.times {
		g.times[i] = btree.NewG(degree, lessTime)
	}
	return g
}

// clone returns a copy sharing structure lazily with g.
func (g *Group) clone() *Group {
	out := &Group{
		key:   g.key,
		slot:  g.slot,
		rows:  g.rows.Clone(),
		times: make([]*btree.BTreeG[TimeEntry], len(g.times)),
	}
	for i, t := range g.times {
		out.times[i] = t.Clone()
	}
	return out
}

func (g *Group) insert(m member) {
	g.rows.ReplaceOrInsert(m)
	for i, st := range m.times {
		if st.Valid {
			g.times[i].ReplaceOrInsert(TimeEntry{TS: st.TS, Key: m.key})
		}
	}
}

func (g *Group) remove(k storage.RowKey) (member, bool) {
	m, ok := g.rows.Delete(member{key: k})
	if !ok {
		return member{}, false
	}
	for i, st := range m.times {
		if st.Valid {
			g.times[i].Delete(TimeEntry{TS: st.TS, Key: k})
		}
	}
	return m, true
}

func (g *Group) Key() value.GroupKey { return g.key }
func (g *Group) Slot() Slot          { return g.slot }
func (g *Group) Len() int            { return g.rows.Len() }

// Contains reports whether k is a row of the group.
func (g *Group) Contains(k storage.RowKey) bool { return g.rows.Has(member{key: k}) }

// Times returns the recorded timestamps of row k.
func (g *Group) Times(k storage.RowKey) (Times, bool) {
	m, ok := g.rows.Get(member{key: k})
	return m.times, ok
}

// First returns the group's smallest row key.
func (g *Group) First() (storage.RowKey, bool) {
	m, ok := g.rows.Min()
	return m.key, ok
}

// Last returns the group's largest row key.
func (g *Group) Last() (storage.RowKey, bool) {
	m, ok := g.rows.Max()
	return m.key, ok
}

// Prev returns the row n positions before k, or the group's first row when
// fewer than n rows precede k. k need not be a row of the group. It returns
// false when no row precedes k or n < 1. The walk visits at most
// min(n, Len()) rows: an n reaching past the group is answered from First.
func (g *Group) Prev(k storage.RowKey, n int64) (storage.RowKey, bool) {
	if n < 1 {
		return 0, false
	}
	if n >= int64(g.rows.Len()) {
		first, ok := g.First()
		if !ok || first >= k {
			return 0, false
		}
		return first, true
	}
	var (
		out   storage.RowKey
		found bool
		seen  int64
	)
	g.rows.DescendLessOrEqual(member{key: k}, func(m member) bool {
		if m.key == k {
			return true
		}
		out, found = m.key, true
		seen++
		return seen < n
	})
	return out, found
}

// Next returns the row n positions after k, or the group's last row when
// fewer than n rows follow k. It returns false when no row follows k or
// n < 1. Like Prev it walks at most min(n, Len()) rows.
func (g *Group) Next(k storage.RowKey, n int64) (storage.RowKey, bool) {
	if n < 1 {
		return 0, false
	}
	if n >= int64(g.rows.Len()) {
		last, ok := g.Last()
		if !ok || last <= k {
			return 0, false
		}
		return last, true
	}
	var (
		out   storage.RowKey
		found bool
		seen  int64
	)
	g.rows.AscendGreaterOrEqual(member{key: k}, func(m member) bool {
		if m.key == k {
			return true
		}
		out, found = m.key, true
		seen++
		return seen < n
	})
	return out, found
}

// Rows returns every row key in ascending order.
func (g *Group) Rows() []storage.RowKey {
	out := make([]storage.RowKey, 0, g.rows.Len())
	g.rows.Ascend(func(m member) bool {
		out = append(out, m.key)
		return true
	})
	return out
}

// Range returns the row keys in [lo, hi] in ascending order.
func (g *Group) Range(lo, hi storage.RowKey) []storage.RowKey {
	var out []storage.RowKey
	g.rows.AscendGreaterOrEqual(member{key: lo}, func(m member) bool {
		if m.key > hi {
			return false
		}
		out = append(out, m.key)
		return true
	})
	return out
}

// Around returns the smallest interval holding k (when k is a row), the
// before rows preceding k and the after rows following it. It returns false
// when that set is empty.
func (g *Group) Around(k storage.RowKey, before, after int64) (lo, hi storage.RowKey, ok bool) {
	isMember := g.Contains(k)
	first, hasFirst := g.Prev(k, before)
	last, hasLast := g.Next(k, after)

	switch {
	case hasFirst:
		lo = first
	case isMember:
		lo = k
	case hasLast:
		lo, _ = g.Next(k, 1)
	default:
		return 0, 0, false
	}
	switch {
	case hasLast:
		hi = last
	case isMember:
		hi = k
	default:
		hi, _ = g.Prev(k, 1)
	}
	return lo, hi, true
}

// Expand returns the rows of [lo, hi] widened by back rows before lo and fwd
// rows after hi, with the index range [start, end] of the rows inside
// [lo, hi] (end < start when there are none). atStart and atEnd report
// whether the slice reaches the group's first and last row.
func (g *Group) Expand(lo, hi storage.RowKey, back, fwd int64) (keys []storage.RowKey, start, end int, atStart, atEnd bool) {
	atStart = true
	if back > 0 {
		g.rows.DescendLessOrEqual(member{key: lo}, func(m member) bool {
			if m.key == lo {
				return true
			}
			if int64(len(keys)) == back {
				atStart = false
				return false
			}
			keys = append(keys, m.key)
			return true
		})
		slices.Reverse(keys)
	} else if _, ok := g.Prev(lo, 1); ok {
		atStart = false
	}

	start = len(keys)
	var inRange int
	var tail int64
	atEnd = true
	g.rows.AscendGreaterOrEqual(member{key: lo}, func(m member) bool {
		if m.key <= hi {
			keys = append(keys, m.key)
			inRange++
			return true
		}
		if tail >= fwd {
			atEnd = false
			return false
		}
		keys = append(keys, m.key)
		tail++
		return true
	})
	end = start + inRange - 1
	return keys, start, end, atStart, atEnd
}

// TimeRange returns the rows whose col-th timestamp lies in [lo, hi], in
// (timestamp, key) order. Rows with a null timestamp are never returned.
func (g *Group) TimeRange(col int, lo, hi int64) []TimeEntry {
	if col < 0 || col >= len(g.times) || hi < lo {
		return nil
	}
	var out []TimeEntry
	g.times[col].AscendGreaterOrEqual(TimeEntry{TS: lo, Key: math.MinInt64}, func(e TimeEntry) bool {
		if e.TS > hi {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// TimeLen returns the number of rows with a valid col-th timestamp.
func (g *Group) TimeLen(col int) int {
	if col < 0 || col >= len(g.times) {
		return 0
	}
	return g.times[col].Len()
}
