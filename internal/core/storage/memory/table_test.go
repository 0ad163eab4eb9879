package memory

import (
	"testing"

	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(
		Column{Name: "Sym", Kind: value.KindString},
		Column{Name: "X", Kind: value.KindInt},
		Column{Name: "Ts", Kind: value.KindTime},
	)
	require.NoError(t, err)
	return tbl
}

func TestNewTableRejectsBadSchema(t *testing.T) {
	_, err := NewTable(Column{Name: "X", Kind: value.KindInt}, Column{Name: "X", Kind: value.KindFloat})
	require.Error(t, err)
	_, err = NewTable(Column{Name: "", Kind: value.KindInt})
	require.Error(t, err)
	_, err = NewTable(Column{Name: "L", Kind: value.KindList})
	require.Error(t, err)
}

func TestTableCycle(t *testing.T) {
	tbl := newTestTable(t)

	require.NoError(t, tbl.Append(1, map[string]any{"Sym": "A", "X": 10, "Ts": int64(100)}))
	require.NoError(t, tbl.Append(2, map[string]any{"Sym": "B", "X": 20}))
	require.NoError(t, tbl.Modify(2, map[string]any{"X": 21}))

	d := tbl.TakeDelta()
	require.Equal(t, []storage.RowKey{1, 2}, d.Added.Keys())
	require.True(t, d.Modified.IsEmpty())
	require.True(t, value.Int(21).Equal(tbl.Value("X", 2)))
	require.True(t, tbl.Value("Ts", 2).IsNull())

	ts, ok := tbl.Timestamp("Ts", 1)
	require.True(t, ok)
	require.Equal(t, int64(100), ts)
	_, ok = tbl.Timestamp("Ts", 2)
	require.False(t, ok)

	require.NoError(t, tbl.Remove(1))
	require.NoError(t, tbl.Shift(storage.Shift{Start: 2, End: 2, Delta: 8}))
	require.NoError(t, tbl.Modify(10, map[string]any{"X": nil}))
	require.NoError(t, tbl.Append(11, map[string]any{"Sym": "A", "X": 1}))

	d = tbl.TakeDelta()
	require.Equal(t, []storage.RowKey{1}, d.Removed.Keys())
	require.Equal(t, []storage.RowKey{11}, d.Added.Keys())
	require.Equal(t, []storage.RowKey{10}, d.Modified.Keys())
	require.Equal(t, []storage.Shift{{Start: 2, End: 2, Delta: 8}}, d.Shifts)
	require.True(t, tbl.Value("X", 10).IsNull())
	require.True(t, value.String("B").Equal(tbl.Value("Sym", 10)))
	require.Equal(t, []storage.RowKey{10, 11}, tbl.RowKeys().Keys())

	require.True(t, tbl.TakeDelta().IsEmpty())
}

func TestTableErrors(t *testing.T) {
	tbl := newTestTable(t)
	require.NoError(t, tbl.Append(1, map[string]any{"X": 1}))

	require.ErrorIs(t, tbl.Append(1, nil), ErrRowExists)
	require.ErrorIs(t, tbl.Modify(7, nil), ErrRowNotFound)
	require.ErrorIs(t, tbl.Append(2, map[string]any{"Nope": 1}), ErrUnknownColumn)
	require.Error(t, tbl.Append(3, map[string]any{"X": "abc"}))
	require.ErrorIs(t, tbl.Remove(1), ErrOutOfOrder)

	tbl.TakeDelta()
	require.ErrorIs(t, tbl.Remove(9), ErrRowNotFound)
	require.NoError(t, tbl.Append(5, map[string]any{"X": 5}))
	require.ErrorIs(t, tbl.Shift(storage.Shift{Start: 0, End: 1, Delta: 1}), ErrOutOfOrder)
}

func TestTableShiftMustPreserveOrder(t *testing.T) {
	tbl := newTestTable(t)
	for _, k := range []storage.RowKey{1, 2, 3} {
		require.NoError(t, tbl.Append(k, map[string]any{"X": int64(k)}))
	}
	tbl.TakeDelta()

	require.ErrorIs(t, tbl.Shift(storage.Shift{Start: 1, End: 1, Delta: 5}), ErrOutOfOrder)
	require.NoError(t, tbl.Shift(storage.Shift{Start: 2, End: 3, Delta: 10}))
	require.Equal(t, []storage.RowKey{1, 12, 13}, tbl.RowKeys().Keys())
	require.True(t, value.Int(3).Equal(tbl.Value("X", 13)))
}

func TestGroupKeys(t *testing.T) {
	tbl := newTestTable(t)
	require.NoError(t, tbl.Append(1, map[string]any{"Sym": "A"}))
	require.NoError(t, tbl.Append(2, map[string]any{"Sym": "B"}))
	require.NoError(t, tbl.Append(3, map[string]any{"Sym": "A"}))

	keys := tbl.GroupKeys([]string{"Sym"}, []storage.RowKey{1, 2, 3})
	require.Equal(t, keys[0], keys[2])
	require.NotEqual(t, keys[0], keys[1])

	ungrouped := tbl.GroupKeys(nil, []storage.RowKey{1, 2})
	require.Equal(t, []value.GroupKey{value.Ungrouped, value.Ungrouped}, ungrouped)
}
