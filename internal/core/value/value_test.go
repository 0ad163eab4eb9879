package value

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		raw     any
		want    Value
		wantErr bool
	}{
		{name: "nil is null", kind: KindInt, raw: nil, want: Null(KindInt)},
		{name: "int from int", kind: KindInt, raw: 7, want: Int(7)},
		{name: "int from string", kind: KindInt, raw: "42", want: Int(42)},
		{name: "int from bad string", kind: KindInt, raw: "x", wantErr: true},
		{name: "float from float", kind: KindFloat, raw: 12.5, want: Float(12.5)},
		{name: "float from int", kind: KindFloat, raw: 3, want: Float(3)},
		{name: "float NaN string", kind: KindFloat, raw: "NaN", want: Float(math.NaN())},
		{name: "decimal from string", kind: KindDecimal, raw: "42.125", want: Decimal(decimal.RequireFromString("42.125"))},
		{name: "decimal from int", kind: KindDecimal, raw: 9, want: Decimal(decimal.NewFromInt(9))},
		{name: "decimal from bad string", kind: KindDecimal, raw: "not-a-number", wantErr: true},
		{name: "string", kind: KindString, raw: "a", want: String("a")},
		{name: "bool", kind: KindBool, raw: "true", want: Bool(true)},
		{name: "time from nanos", kind: KindTime, raw: int64(1000), want: Time(1000)},
		{name: "time from rfc3339", kind: KindTime, raw: "1970-01-01T00:00:01Z", want: Time(1_000_000_000)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromAny(tc.kind, tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "want=%s got=%s", tc.want, got)
		})
	}
}

func TestFromResult(t *testing.T) {
	require.Equal(t, KindInt, FromResult(3).Kind())
	require.Equal(t, KindFloat, FromResult(1.5).Kind())
	require.Equal(t, KindString, FromResult("x").Kind())
	require.Equal(t, KindBool, FromResult(true).Kind())
	require.True(t, FromResult(nil).IsNull())

	list := FromResult([]any{int64(1), nil})
	require.Equal(t, KindList, list.Kind())
	require.Len(t, list.Items(), 2)
	require.True(t, list.Items()[1].IsNull())
}

func TestEqual(t *testing.T) {
	boom := errors.New("boom")

	require.True(t, Float(math.NaN()).Equal(Float(math.NaN())))
	require.False(t, Null(KindFloat).Equal(Float(math.NaN())))
	require.False(t, Null(KindInt).Equal(Errored(KindInt, boom)))
	require.True(t, Errored(KindInt, boom).Equal(Errored(KindInt, errors.New("boom"))))
	require.False(t, Int(1).Equal(Float(1)))
	require.True(t, Decimal(decimal.RequireFromString("1.50")).Equal(Decimal(decimal.RequireFromString("1.5"))))
	require.True(t, List([]Value{Int(1), Null(KindInt)}).Equal(List([]Value{Int(1), Null(KindInt)})))
	require.False(t, List([]Value{Int(1)}).Equal(List([]Value{Int(2)})))
}

func TestCompare(t *testing.T) {
	require.Equal(t, -1, Compare(Int(1), Int(2)))
	require.Equal(t, 1, Compare(Float(math.NaN()), Float(1e300)))
	require.Equal(t, 0, Compare(Decimal(decimal.NewFromInt(2)), Decimal(decimal.RequireFromString("2.0"))))
	require.Equal(t, 1, Compare(String("b"), String("a")))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "int", want: KindInt},
		{in: "LONG", want: KindInt},
		{in: "double", want: KindFloat},
		{in: "decimal", want: KindDecimal},
		{in: "timestamp", want: KindTime},
		{in: "list", wantErr: true},
		{in: "blob", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMakeGroupKey(t *testing.T) {
	require.Equal(t, Ungrouped, MakeGroupKey())
	require.Equal(t, MakeGroupKey(String("A")), MakeGroupKey(String("A")))
	require.NotEqual(t, MakeGroupKey(String("a|b")), MakeGroupKey(String("a"), String("b")))
	require.NotEqual(t, MakeGroupKey(String("")), MakeGroupKey(Null(KindString)))
	require.NotEqual(t, MakeGroupKey(String("\x00")), MakeGroupKey(Null(KindString)))
	require.NotEqual(t, MakeGroupKey(Int(1)), MakeGroupKey(String("1")))
}
