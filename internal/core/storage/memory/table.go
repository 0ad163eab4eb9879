package memory

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

var (
	// ErrUnknownColumn is returned when a row names a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrRowExists is returned when appending a key that is already live.
	ErrRowExists = errors.New("row already exists")
	// ErrRowNotFound is returned when modifying or removing a key that is not live.
	ErrRowNotFound = errors.New("row not found")
	// ErrOutOfOrder is returned when a cycle's mutations are not issued as
	// removals, then shifts, then appends and modifications.
	ErrOutOfOrder = errors.New("mutation out of cycle order")
)

// Column declares one table column.
type Column struct {
	Name string     `yaml:"name"`
	Kind value.Kind `yaml:"-"`
}

type phase uint8

const (
	phaseRemove phase = iota
	phaseUpsert
)

// Table is an in-memory columnar table. Writers record one cycle's
// mutations and hand them to the engine with TakeDelta; readers use the
// storage.Source methods and may run concurrently with each other.
//
// Within a cycle mutations must arrive in key-space order: removals (old
// keys), then at most one batch of shifts, then appends and modifications
// (new keys).
type Table struct {
	mu    sync.RWMutex
	kinds map[string]value.Kind
	names []string
	cols  map[string]map[storage.RowKey]value.Value
	live  map[storage.RowKey]struct{}

	phase    phase
	added    []storage.RowKey
	removed  []storage.RowKey
	modified []storage.RowKey
	shifts   []storage.Shift
}

// NewTable creates an empty table with the given schema.
func NewTable(columns ...Column) (*Table, error) {
	t := &Table{
		kinds: make(map[string]value.Kind, len(columns)),
		cols:  make(map[string]map[storage.RowKey]value.Value, len(columns)),
		live:  make(map[storage.RowKey]struct{}),
	}
	for _, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column name must not be empty")
		}
		if _, dup := t.kinds[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if c.Kind == value.KindInvalid || c.Kind == value.KindList {
			return nil, fmt.Errorf("column %q: unsupported kind %s", c.Name, c.Kind)
		}
		t.kinds[c.Name] = c.Kind
		t.names = append(t.names, c.Name)
		t.cols[c.Name] = make(map[storage.RowKey]value.Value)
	}
	return t, nil
}

// Columns returns the schema in declaration order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.names))
	for i, n := range t.names {
		out[i] = Column{Name: n, Kind: t.kinds[n]}
	}
	return out
}

// Append adds a new row. Missing columns are null.
func (t *Table) Append(key storage.RowKey, row map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[key]; ok {
		return fmt.Errorf("append %d: %w", key, ErrRowExists)
	}
	vals, err := t.coerce(row)
	if err != nil {
		return fmt.Errorf("append %d: %w", key, err)
	}
	t.phase = phaseUpsert
	t.live[key] = struct{}{}
	for name, v := range vals {
		t.cols[name][key] = v
	}
	t.added = append(t.added, key)
	return nil
}

// Modify overwrites the given columns of a live row.
func (t *Table) Modify(key storage.RowKey, row map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[key]; !ok {
		return fmt.Errorf("modify %d: %w", key, ErrRowNotFound)
	}
	vals, err := t.coerce(row)
	if err != nil {
		return fmt.Errorf("modify %d: %w", key, err)
	}
	t.phase = phaseUpsert
	for name, v := range vals {
		if v.IsNull() {
			delete(t.cols[name], key)
			continue
		}
		t.cols[name][key] = v
	}
	t.modified = append(t.modified, key)
	return nil
}

// Remove deletes live rows.
func (t *Table) Remove(keys ...storage.RowKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase > phaseRemove {
		return fmt.Errorf("remove: %w", ErrOutOfOrder)
	}
	for _, k := range keys {
		if _, ok := t.live[k]; !ok {
			return fmt.Errorf("remove %d: %w", k, ErrRowNotFound)
		}
	}
	for _, k := range keys {
		delete(t.live, k)
		for _, col := range t.cols {
			delete(col, k)
		}
		t.removed = append(t.removed, k)
	}
	return nil
}

// Shift relabels live keys. All shifts of a cycle are applied together and
// must keep the relative order of every live key.
func (t *Table) Shift(shifts ...storage.Shift) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase > phaseRemove {
		return fmt.Errorf("shift: %w", ErrOutOfOrder)
	}
	ss, err := storage.NormalizeShifts(shifts)
	if err != nil {
		return err
	}
	keys := t.sortedKeys()
	mapped := make([]storage.RowKey, len(keys))
	for i, k := range keys {
		mapped[i] = ss.Apply(k)
		if i > 0 && mapped[i] <= mapped[i-1] {
			return fmt.Errorf("shift reorders keys %d and %d: %w", keys[i-1], keys[i], ErrOutOfOrder)
		}
	}

	live := make(map[storage.RowKey]struct{}, len(t.live))
	for _, k := range mapped {
		live[k] = struct{}{}
	}
	for name, col := range t.cols {
		next := make(map[storage.RowKey]value.Value, len(col))
		for k, v := range col {
			next[ss.Apply(k)] = v
		}
		t.cols[name] = next
	}
	t.live = live
	t.shifts = append(t.shifts, ss...)
	// further shifts this cycle would be expressed in a key space the
	// delta cannot describe
	t.phase = phaseUpsert
	return nil
}

// TakeDelta returns the mutations recorded since the last call and starts a
// new cycle.
func (t *Table) TakeDelta() storage.Delta {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := storage.NewRowSet(t.removed...)
	added := storage.NewRowSet(t.added...)
	// rows appended and modified in the same cycle are just added
	modified := storage.NewRowSet(t.modified...).Minus(added)
	d := storage.Delta{
		Added:    added,
		Removed:  removed,
		Modified: modified,
		Shifts:   slices.Clone(t.shifts),
	}
	t.added, t.removed, t.modified, t.shifts = nil, nil, nil, nil
	t.phase = phaseRemove
	return d
}

// Kind implements storage.Source.
func (t *Table) Kind(column string) (value.Kind, bool) {
	k, ok := t.kinds[column]
	return k, ok
}

// Value implements storage.Source.
func (t *Table) Value(column string, key storage.RowKey) value.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()

	col, ok := t.cols[column]
	if !ok {
		return value.Null(value.KindInvalid)
	}
	if v, ok := col[key]; ok {
		return v
	}
	return value.Null(t.kinds[column])
}

// Timestamp implements storage.Source.
func (t *Table) Timestamp(column string, key storage.RowKey) (int64, bool) {
	v := t.Value(column, key)
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case value.KindTime:
		return v.Time(), true
	case value.KindInt:
		return v.Int(), true
	}
	return 0, false
}

// GroupKeys implements storage.Source.
func (t *Table) GroupKeys(columns []string, keys []storage.RowKey) []value.GroupKey {
	out := make([]value.GroupKey, len(keys))
	if len(columns) == 0 {
		return out
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	vals := make([]value.Value, len(columns))
	for i, k := range keys {
		for j, c := range columns {
			v, ok := t.cols[c][k]
			if !ok {
				v = value.Null(t.kinds[c])
			}
			vals[j] = v
		}
		out[i] = value.MakeGroupKey(vals...)
	}
	return out
}

// RowKeys implements storage.Lister.
func (t *Table) RowKeys() storage.RowSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return storage.NewRowSet(t.sortedKeys()...)
}

// Len returns the number of live rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

func (t *Table) sortedKeys() []storage.RowKey {
	keys := make([]storage.RowKey, 0, len(t.live))
	for k := range t.live {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (t *Table) coerce(row map[string]any) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(row))
	for name, raw := range row {
		kind, ok := t.kinds[name]
		if !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownColumn)
		}
		v, err := value.FromAny(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		if v.IsValid() && v.Kind() != kind {
			return nil, fmt.Errorf("column %q: got %s, want %s", name, v.Kind(), kind)
		}
		out[name] = v
	}
	return out, nil
}
