package grouping

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/btree"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// DefaultDegree is the B-tree degree used when none is configured.
const DefaultDegree = 32

// ErrDuplicateRow is returned when a row key is placed twice.
var ErrDuplicateRow = errors.New("row already placed")

type placement struct {
	key  storage.RowKey
	slot Slot
}

func lessPlacement(a, b placement) bool { return a.key < b.key }

// Index maps every live row to its group and keeps each group's rows in key
// order and, per timestamp column, in (timestamp, key) order.
//
// Groups live in an arena indexed by Slot. The GroupKey to Slot map is only
// consulted when a row is placed; everything downstream works with slots.
// An Index is mutated only through a Txn.
type Index struct {
	degree   int
	tsCols   []string
	arena    []*Group
	free     []Slot
	byKey    map[value.GroupKey]Slot
	rows     *btree.BTreeG[placement]
	nextSlot Slot
}

// New creates an empty index. tsColumns are the timestamp columns whose
// per-group time order is maintained.
func New(degree int, tsColumns ...string) *Index {
	if degree < 2 {
		degree = DefaultDegree
	}
	return &Index{
		degree: degree,
		tsCols: slices.Clone(tsColumns),
		byKey:  make(map[value.GroupKey]Slot),
		rows:   btree.NewG(degree, lessPlacement),
	}
}

// TimestampColumns returns the indexed timestamp columns; a column's
// position is the col argument of Group.TimeRange.
func (ix *Index) TimestampColumns() []string { return slices.Clone(ix.tsCols) }

// Groups returns the number of live groups.
func (ix *Index) Groups() int { return len(ix.byKey) }

// Rows returns the number of live rows.
func (ix *Index) Rows() int { return ix.rows.Len() }

// SlotOf returns the group slot of a live row.
func (ix *Index) SlotOf(k storage.RowKey) (Slot, bool) {
	p, ok := ix.rows.Get(placement{key: k})
	return p.slot, ok
}

// Lookup returns the slot of a group key.
func (ix *Index) Lookup(gk value.GroupKey) (Slot, bool) {
	s, ok := ix.byKey[gk]
	return s, ok
}

// Group returns the group at slot.
func (ix *Index) Group(s Slot) (*Group, error) {
	if int(s) < 0 || int(s) >= len(ix.arena) || ix.arena[s] == nil {
		return nil, fmt.Errorf("%w: slot %d", coreerr.ErrMissingGroup, s)
	}
	return ix.arena[s], nil
}

// Slots returns every live slot in ascending order.
func (ix *Index) Slots() []Slot {
	out := make([]Slot, 0, len(ix.byKey))
	for s, g := range ix.arena {
		if g != nil {
			out = append(out, Slot(s))
		}
	}
	return out
}

// Begin starts a transaction. Only one transaction may be open at a time;
// the index itself is not changed until Commit.
func (ix *Index) Begin() *Txn {
	return &Txn{
		ix:       ix,
		rows:     ix.rows.Clone(),
		staged:   make(map[Slot]*Group),
		added:    make(map[value.GroupKey]Slot),
		nextSlot: ix.nextSlot,
	}
}

// Txn is a copy-on-write view of an Index. A group is cloned the first
// time the transaction writes to it. Discarding a Txn without committing
// leaves the index exactly as it was.
type Txn struct {
	ix       *Index
	rows     *btree.BTreeG[placement]
	staged   map[Slot]*Group
	added    map[value.GroupKey]Slot
	reused   int // slots taken from the end of ix.free
	nextSlot Slot
	done     bool
}

// SlotOf returns the group slot of a row as of this transaction.
func (tx *Txn) SlotOf(k storage.RowKey) (Slot, bool) {
	p, ok := tx.rows.Get(placement{key: k})
	return p.slot, ok
}

// Lookup returns the slot of a group key as of this transaction.
func (tx *Txn) Lookup(gk value.GroupKey) (Slot, bool) {
	if s, ok := tx.added[gk]; ok {
		return s, true
	}
	s, ok := tx.ix.byKey[gk]
	return s, ok
}

// Group returns the group at slot as of this transaction.
func (tx *Txn) Group(s Slot) (*Group, error) {
	if g, ok := tx.staged[s]; ok {
		return g, nil
	}
	return tx.ix.Group(s)
}

// Touched returns the slots written by this transaction in ascending order.
func (tx *Txn) Touched() []Slot {
	out := make([]Slot, 0, len(tx.staged))
	for s := range tx.staged {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (tx *Txn) mutable(s Slot) (*Group, error) {
	if g, ok := tx.staged[s]; ok {
		return g, nil
	}
	g, err := tx.ix.Group(s)
	if err != nil {
		return nil, err
	}
	g = g.clone()
	tx.staged[s] = g
	return g, nil
}

func (tx *Txn) place(gk value.GroupKey) *Group {
	if s, ok := tx.Lookup(gk); ok {
		g, err := tx.mutable(s)
		if err == nil {
			return g
		}
	}
	var s Slot
	if free := tx.ix.free; tx.reused < len(free) {
		s = free[len(free)-1-tx.reused]
		tx.reused++
	} else {
		s = tx.nextSlot
		tx.nextSlot++
	}
	g := newGroup(tx.ix.degree, gk, s, len(tx.ix.tsCols))
	tx.staged[s] = g
	tx.added[gk] = s
	return g
}

// Insert places a new row in the group gk, creating the group if needed.
func (tx *Txn) Insert(k storage.RowKey, gk value.GroupKey, times Times) (Slot, error) {
	if _, ok := tx.rows.Get(placement{key: k}); ok {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateRow, k)
	}
	g := tx.place(gk)
	g.insert(member{key: k, times: tx.normalize(times)})
	tx.rows.ReplaceOrInsert(placement{key: k, slot: g.slot})
	return g.slot, nil
}

// Remove takes a row out of its group and returns the slot and timestamps
// it had. A group left empty is torn down at Commit.
func (tx *Txn) Remove(k storage.RowKey) (Slot, Times, error) {
	p, ok := tx.rows.Delete(placement{key: k})
	if !ok {
		return 0, nil, fmt.Errorf("%w: row %d is not placed", coreerr.ErrMissingGroup, k)
	}
	g, err := tx.mutable(p.slot)
	if err != nil {
		return 0, nil, err
	}
	m, ok := g.remove(k)
	if !ok {
		return 0, nil, fmt.Errorf("%w: row %d missing from group slot %d", coreerr.ErrMissingGroup, k, p.slot)
	}
	return p.slot, m.times, nil
}

// Move reassigns a live row to group gk, keeping its timestamps.
func (tx *Txn) Move(k storage.RowKey, gk value.GroupKey) (from, to Slot, err error) {
	from, times, err := tx.Remove(k)
	if err != nil {
		return 0, 0, err
	}
	to, err = tx.Insert(k, gk, times)
	return from, to, err
}

// UpdateTimes replaces a live row's timestamps and returns the previous ones.
func (tx *Txn) UpdateTimes(k storage.RowKey, times Times) (Times, error) {
	p, ok := tx.rows.Get(placement{key: k})
	if !ok {
		return nil, fmt.Errorf("%w: row %d is not placed", coreerr.ErrMissingGroup, k)
	}
	g, err := tx.mutable(p.slot)
	if err != nil {
		return nil, err
	}
	m, ok := g.remove(k)
	if !ok {
		return nil, fmt.Errorf("%w: row %d missing from group slot %d", coreerr.ErrMissingGroup, k, p.slot)
	}
	g.insert(member{key: k, times: tx.normalize(times)})
	return m.times, nil
}

// Shift relabels live rows. Every shift must keep the relative order of all
// live rows; a shift that moves a row past an unshifted neighbour fails with
// ErrInvalidShift and leaves the transaction unchanged.
func (tx *Txn) Shift(ss storage.Shifts) error {
	if len(ss) == 0 {
		return nil
	}
	var moved []placement
	for _, s := range ss {
		first, last, n := tx.span(s)
		if n == 0 {
			continue
		}
		if p, ok := tx.neighbour(first, true); ok && !s.Covers(p) && ss.Apply(p) >= s.Apply(first) {
			return fmt.Errorf("%w: shifting [%d, %d] by %d passes row %d", coreerr.ErrInvalidShift, s.Start, s.End, s.Delta, p)
		}
		if nx, ok := tx.neighbour(last, false); ok && !s.Covers(nx) && ss.Apply(nx) <= s.Apply(last) {
			return fmt.Errorf("%w: shifting [%d, %d] by %d passes row %d", coreerr.ErrInvalidShift, s.Start, s.End, s.Delta, nx)
		}
		tx.rows.AscendGreaterOrEqual(placement{key: s.Start}, func(p placement) bool {
			if p.key > s.End {
				return false
			}
			moved = append(moved, p)
			return true
		})
	}

	bySlot := make(map[Slot][]member)
	for _, p := range moved {
		tx.rows.Delete(p)
		g, err := tx.mutable(p.slot)
		if err != nil {
			return err
		}
		m, ok := g.remove(p.key)
		if !ok {
			return fmt.Errorf("%w: row %d missing from group slot %d", coreerr.ErrMissingGroup, p.key, p.slot)
		}
		bySlot[p.slot] = append(bySlot[p.slot], m)
	}
	for slot, members := range bySlot {
		g := tx.staged[slot]
		for _, m := range members {
			m.key = ss.Apply(m.key)
			g.insert(m)
			tx.rows.ReplaceOrInsert(placement{key: m.key, slot: slot})
		}
	}
	return nil
}

// span returns the first and last live rows covered by s and how many there are.
func (tx *Txn) span(s storage.Shift) (first, last storage.RowKey, n int) {
	tx.rows.AscendGreaterOrEqual(placement{key: s.Start}, func(p placement) bool {
		if p.key > s.End {
			return false
		}
		if n == 0 {
			first = p.key
		}
		last = p.key
		n++
		return true
	})
	return first, last, n
}

func (tx *Txn) neighbour(k storage.RowKey, before bool) (storage.RowKey, bool) {
	var (
		out   storage.RowKey
		found bool
	)
	visit := func(p placement) bool {
		if p.key == k {
			return true
		}
		out, found = p.key, true
		return false
	}
	if before {
		tx.rows.DescendLessOrEqual(placement{key: k}, visit)
	} else {
		tx.rows.AscendGreaterOrEqual(placement{key: k}, visit)
	}
	return out, found
}

func (tx *Txn) normalize(times Times) Times {
	if len(times) == len(tx.ix.tsCols) {
		return times
	}
	out := make(Times, len(tx.ix.tsCols))
	copy(out, times)
	return out
}

// Commit publishes the transaction into the index and returns the slots of
// groups it tore down. The Txn must not be used afterwards.
func (tx *Txn) Commit() []Slot {
	if tx.done {
		return nil
	}
	tx.done = true
	ix := tx.ix

	if n := int(tx.nextSlot); n > len(ix.arena) {
		ix.arena = append(ix.arena, make([]*Group, n-len(ix.arena))...)
	}
	ix.free = ix.free[:len(ix.free)-tx.reused]
	ix.nextSlot = tx.nextSlot
	ix.rows = tx.rows

	var released []Slot
	for _, s := range tx.Touched() {
		g := tx.staged[s]
		if g.Len() == 0 {
			ix.arena[s] = nil
			delete(ix.byKey, g.key)
			ix.free = append(ix.free, s)
			released = append(released, s)
			continue
		}
		ix.arena[s] = g
		ix.byKey[g.key] = s
	}
	return released
}
