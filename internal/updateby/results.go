package updateby

import (
	"github.com/google/btree"

	"github.com/aevon-lab/updateby/internal/core/accumulator"
	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// resultRow holds every output of one row plus the running checkpoints
// taken after it. Rows are shared with published snapshots, so the slices
// are copied before any write.
type resultRow struct {
	key   storage.RowKey
	vals  []value.Value
	ckpts []accumulator.State
}

func lessResult(a, b resultRow) bool { return a.key < b.key }

func (r resultRow) copy() resultRow {
	out := resultRow{key: r.key, vals: make([]value.Value, len(r.vals))}
	copy(out.vals, r.vals)
	if len(r.ckpts) > 0 {
		out.ckpts = make([]accumulator.State, len(r.ckpts))
		copy(out.ckpts, r.ckpts)
	}
	return out
}

type resultStore = btree.BTreeG[resultRow]

func newResultStore(degree int) *resultStore {
	return btree.NewG(degree, lessResult)
}

// Change is one output cell that differs from the previous cycle.
type Change struct {
	Column string
	Key    storage.RowKey
	Value  value.Value
}

// RowError is an output cell left in the error state by this cycle.
type RowError struct {
	Column string
	Key    storage.RowKey
	Kind   coreerr.Kind
	Err    error
}

// CycleResult reports what a cycle changed. Changes and Errors are sorted by
// column declaration order, then by key.
type CycleResult struct {
	Changes []Change
	Errors  []RowError
}

// Cell is one row of an output column.
type Cell struct {
	Key   storage.RowKey
	Value value.Value
}

// Snapshot is an immutable view of every output after a committed cycle.
// It is safe for concurrent use.
type Snapshot struct {
	cycle   uint64
	columns map[string]int
	names   []string
	rows    *resultStore
}

func newSnapshot(cycle uint64, names []string, columns map[string]int, rows *resultStore) *Snapshot {
	return &Snapshot{cycle: cycle, columns: columns, names: names, rows: rows}
}

// Cycle is the number of cycles committed before this snapshot was taken.
func (s *Snapshot) Cycle() uint64 { return s.cycle }

// Columns returns the output column names in declaration order.
func (s *Snapshot) Columns() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of rows with outputs.
func (s *Snapshot) Len() int { return s.rows.Len() }

// Value returns one output cell. It reports false for an unknown column or
// a row the engine holds no outputs for.
func (s *Snapshot) Value(column string, key storage.RowKey) (value.Value, bool) {
	i, ok := s.columns[column]
	if !ok {
		return value.Value{}, false
	}
	r, ok := s.rows.Get(resultRow{key: key})
	if !ok {
		return value.Value{}, false
	}
	return r.vals[i], true
}

// Column returns an output column in key order, or nil if it does not exist.
func (s *Snapshot) Column(column string) []Cell {
	i, ok := s.columns[column]
	if !ok {
		return nil
	}
	out := make([]Cell, 0, s.rows.Len())
	s.rows.Ascend(func(r resultRow) bool {
		out = append(out, Cell{Key: r.key, Value: r.vals[i]})
		return true
	})
	return out
}
