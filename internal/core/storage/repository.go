package storage

import (
	"github.com/aevon-lab/updateby/internal/core/value"
)

// Source is the read side of the columnar table the engine maintains outputs
// for. Implementations must be safe for concurrent reads; the coordinator
// reads from several workers during a cycle and never writes.
type Source interface {
	// Kind returns the column's value kind, or false if the column does not exist.
	Kind(column string) (value.Kind, bool)

	// Value reads one cell. Unknown keys read as null.
	Value(column string, key RowKey) value.Value

	// Timestamp reads a timestamp cell as nanoseconds since the epoch.
	// It returns false when the cell is null.
	Timestamp(column string, key RowKey) (int64, bool)

	// GroupKeys resolves the group key of each row from the by-columns.
	// The result is aligned with keys. With no columns every row maps to
	// value.Ungrouped.
	GroupKeys(columns []string, keys []RowKey) []value.GroupKey
}

// Lister is implemented by sources that can enumerate their live row keys,
// which is what a bootstrap over the whole table needs.
type Lister interface {
	RowKeys() RowSet
}
