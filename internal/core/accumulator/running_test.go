package accumulator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

func newRunningT(t *testing.T, s spec.Spec, in value.Kind) Running {
	t.Helper()
	r, err := NewRunning(s, in)
	require.NoError(t, err)
	return r
}

func ints(vs ...any) []value.Value {
	out := make([]value.Value, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = value.Null(value.KindInt)
			continue
		}
		out[i] = value.Int(int64(v.(int)))
	}
	return out
}

func advanceAll(r Running, vs []value.Value) []value.Value {
	out := make([]value.Value, len(vs))
	for i, v := range vs {
		out[i] = r.Advance(at(int64(i), v))
	}
	return out
}

func requireSameAll(t *testing.T, want, got []value.Value) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		requireSame(t, want[i], got[i], "row %d", i)
	}
}

func TestEmaTicks(t *testing.T) {
	a := math.Exp(-1.0 / 2)
	r := newRunningT(t, spec.Must(spec.Ema(window.Must(window.DecayTicks(2)), "X")), value.KindInt)

	got := advanceAll(r, ints(10, 20, 30))
	acc0 := 10.0
	acc1 := acc0*a + 20*(1-a)
	acc2 := acc1*a + 30*(1-a)
	require.InDelta(t, acc0, got[0].Float(), 1e-9)
	require.InDelta(t, acc1, got[1].Float(), 1e-9)
	require.InDelta(t, acc2, got[2].Float(), 1e-9)
	require.InDelta(t, 13.935, got[1].Float(), 1e-3)
	require.InDelta(t, 20.26, got[2].Float(), 1e-2)
}

func TestExponentialVariants(t *testing.T) {
	decay := window.Must(window.DecayTicks(2))
	a := math.Exp(-1.0 / 2)

	t.Run("ems", func(t *testing.T) {
		got := advanceAll(newRunningT(t, spec.Must(spec.Ems(decay, "X")), value.KindInt), ints(10, 20))
		require.InDelta(t, 10*a+20, got[1].Float(), 1e-9)
	})
	t.Run("em min and max", func(t *testing.T) {
		mins := advanceAll(newRunningT(t, spec.Must(spec.EmMin(decay, "X")), value.KindInt), ints(10, 20, 1))
		require.InDelta(t, 10*a, mins[1].Float(), 1e-9)
		require.InDelta(t, 1, mins[2].Float(), 1e-9)

		maxs := advanceAll(newRunningT(t, spec.Must(spec.EmMax(decay, "X")), value.KindInt), ints(10, 20, 1))
		require.InDelta(t, 20, maxs[1].Float(), 1e-9)
		require.InDelta(t, 20*a, maxs[2].Float(), 1e-9)
	})
	t.Run("em std", func(t *testing.T) {
		got := advanceAll(newRunningT(t, spec.Must(spec.EmStd(decay, "X")), value.KindInt), ints(10, 20, nil))
		require.True(t, math.IsNaN(got[0].Float()))
		want := math.Sqrt(a * (1 - a) * 100)
		require.InDelta(t, want, got[1].Float(), 1e-9)
		// a skipped null carries the previous output
		require.InDelta(t, want, got[2].Float(), 1e-9)
	})
}

func TestEmaTime(t *testing.T) {
	tau := time.Second
	decay := window.Must(window.DecayTime("Ts", tau))

	c := window.DefaultControl()
	c.OnNegativeDeltaTime = window.PolicyReset
	r := newRunningT(t, spec.Must(spec.Ema(decay, "X")).WithControl(c), value.KindFloat)

	sec := int64(time.Second)
	row := func(ts int64, x float64, hasTS bool) value.Value {
		return r.Advance(Sample{Val: value.Float(x), TS: ts, HasTS: hasTS})
	}

	requireSame(t, value.Float(10), row(0, 10, true))

	a := math.Exp(-1)
	want := 10*a + 20*(1-a)
	requireSame(t, value.Float(want), row(sec, 20, true))

	// zero elapsed time decays by 1 and leaves the aggregate unchanged
	requireSame(t, value.Float(want), row(sec, 99, true))

	// a null timestamp is skipped
	requireSame(t, value.Float(want), row(0, 50, false))

	// time going backwards resets
	require.True(t, row(0, 50, true).IsNull())
	requireSame(t, value.Float(7), row(2*sec, 7, true))
}

func TestCumulativeNullPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy window.Policy
		want   []value.Value
	}{
		{"skip", window.PolicySkip, ints(1, 1, 3)},
		{"reset", window.PolicyReset, ints(1, nil, 2)},
		{"poison", window.PolicyPoison, ints(1, nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := window.DefaultControl()
			c.OnNull = tt.policy
			r := newRunningT(t, spec.Must(spec.CumSum("X")).WithControl(c), value.KindInt)
			requireSameAll(t, tt.want, advanceAll(r, ints(1, nil, 2)))
		})
	}
}

func TestCumulativeOps(t *testing.T) {
	tests := []struct {
		name string
		spec spec.Spec
		in   []value.Value
		want []value.Value
	}{
		{"sum", spec.Must(spec.CumSum("X")), ints(1, 2, 3), ints(1, 3, 6)},
		{"prod", spec.Must(spec.CumProd("X")), ints(2, 3, 0, 5), ints(2, 6, 0, 0)},
		{"min", spec.Must(spec.CumMin("X")), ints(3, 1, 2), ints(3, 1, 1)},
		{"max", spec.Must(spec.CumMax("X")), ints(nil, 1, 3, 2), ints(nil, 1, 3, 3)},
		{"fill", spec.Must(spec.ForwardFill("X")), ints(nil, 1, nil, 2), ints(nil, 1, 1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireSameAll(t, tt.want, advanceAll(newRunningT(t, tt.spec, value.KindInt), tt.in))
		})
	}
}

func TestCumulativeOverflow(t *testing.T) {
	r := newRunningT(t, spec.Must(spec.CumSum("X")), value.KindInt)
	r.Advance(at(0, value.Int(math.MaxInt64)))
	got := r.Advance(at(1, value.Int(1)))
	require.ErrorIs(t, got.Err(), coreerr.ErrNumericOverflow)
	require.Equal(t, coreerr.KindNumericOverflow, coreerr.KindOf(got.Err()))
	// back in range
	require.Equal(t, int64(math.MaxInt64-1), r.Advance(at(2, value.Int(-2))).Int())

	c := window.DefaultControl()
	c.BigOverflow = window.OverflowSaturate
	p := newRunningT(t, spec.Must(spec.CumProd("X")).WithControl(c), value.KindInt)
	p.Advance(at(0, value.Int(math.MaxInt64)))
	require.Equal(t, int64(math.MaxInt64), p.Advance(at(1, value.Int(3))).Int())
}

func TestCumulativeProductPastInt64(t *testing.T) {
	c := window.DefaultControl()
	c.BigOverflow = window.OverflowSaturate
	r := newRunningT(t, spec.Must(spec.CumProd("X")).WithControl(c), value.KindInt)

	var last value.Value
	for i := int64(0); i < 200; i++ {
		last = r.Advance(at(i, value.Int(3)))
	}
	require.Equal(t, int64(math.MaxInt64), last.Int())

	// the checkpoint no longer carries the exact product
	st := r.State()
	require.True(t, st.d.IsZero())
	require.Equal(t, int8(1), st.overflow)

	require.Equal(t, int64(math.MinInt64), r.Advance(at(200, value.Int(-2))).Int())
	require.Equal(t, int64(math.MaxInt64), r.Advance(at(201, value.Int(-1))).Int())
	require.Equal(t, int64(0), r.Advance(at(202, value.Int(0))).Int())
	require.Equal(t, int64(0), r.Advance(at(203, value.Int(7))).Int())

	e := newRunningT(t, spec.Must(spec.CumProd("X")), value.KindInt)
	e.Advance(at(0, value.Int(math.MaxInt64)))
	got := e.Advance(at(1, value.Int(2)))
	require.ErrorIs(t, got.Err(), coreerr.ErrNumericOverflow)
	require.ErrorIs(t, e.Advance(at(2, value.Int(5))).Err(), coreerr.ErrNumericOverflow)

	// restoring an overflowed checkpoint keeps reporting overflow
	fresh := newRunningT(t, spec.Must(spec.CumProd("X")), value.KindInt)
	fresh.Restore(e.State())
	require.ErrorIs(t, fresh.Advance(at(3, value.Int(1))).Err(), coreerr.ErrNumericOverflow)
}

func TestCumulativeDecimalProductPrecision(t *testing.T) {
	c := window.DefaultControl()
	c.BigValuePrecision = 5
	r := newRunningT(t, spec.Must(spec.CumProd("D")).WithControl(c), value.KindDecimal)

	dec := func(s string) value.Value {
		v, err := value.FromAny(value.KindDecimal, s)
		require.NoError(t, err)
		return v
	}
	require.True(t, dec("1.23456").Equal(r.Advance(at(0, dec("1.23456")))))
	// 1.358016 -> 1.3580
	got := r.Advance(at(1, dec("1.1")))
	require.True(t, dec("1.358").Equal(got), "got %s", got)
	// 1.358 * 1234.5 = 1676.451 -> 1676.5
	got = r.Advance(at(2, dec("1234.5")))
	require.True(t, dec("1676.5").Equal(got), "got %s", got)
}

func TestDeltaControls(t *testing.T) {
	in := ints(5, 8, nil, 10)
	tests := []struct {
		dc   window.DeltaControl
		want []value.Value
	}{
		{window.NullDominates, ints(nil, 3, nil, nil)},
		{window.ValueDominates, ints(5, 3, nil, 10)},
		{window.ZeroDominates, ints(0, 3, nil, 0)},
	}
	for _, tt := range tests {
		r := newRunningT(t, spec.Must(spec.Delta(tt.dc, "X")), value.KindInt)
		requireSameAll(t, tt.want, advanceAll(r, in))
	}

	t.Run("time", func(t *testing.T) {
		r := newRunningT(t, spec.Must(spec.Delta(window.NullDominates, "Ts")), value.KindTime)
		r.Advance(at(0, value.Time(100)))
		requireSame(t, value.Int(250), r.Advance(at(1, value.Time(350))))
	})
}

func TestRunningCheckpointRestore(t *testing.T) {
	in := []value.Value{value.Float(3), value.Float(1), value.Float(4), value.Float(1), value.Float(5)}
	specs := []spec.Spec{
		spec.Must(spec.CumSum("X")),
		spec.Must(spec.CumMin("X")),
		spec.Must(spec.Delta(window.NullDominates, "X")),
		spec.Must(spec.Ema(window.Must(window.DecayTicks(3)), "X")),
		spec.Must(spec.EmStd(window.Must(window.DecayTicks(3)), "X")),
	}
	for _, s := range specs {
		t.Run(s.Op().String(), func(t *testing.T) {
			full := newRunningT(t, s, value.KindFloat)
			var (
				want []value.Value
				ckpt State
			)
			for i, v := range in {
				want = append(want, full.Advance(at(int64(i), v)))
				if i == 1 {
					ckpt = full.State()
				}
			}

			resumed := newRunningT(t, s, value.KindFloat)
			resumed.Restore(ckpt)
			require.True(t, ckpt.Started())
			for i := 2; i < len(in); i++ {
				requireSame(t, want[i], resumed.Advance(at(int64(i), in[i])), "row %d", i)
			}

			resumed.Reset()
			requireSame(t, want[0], resumed.Advance(at(0, in[0])))
		})
	}
}

func TestFactoryRejectsWrongFamily(t *testing.T) {
	_, err := NewRunning(spec.Must(spec.RollingSum(ticks(2, 0), "X")), value.KindInt)
	require.ErrorIs(t, err, spec.ErrInvalidSpec)

	_, err = NewRolling(spec.Must(spec.CumSum("X")), value.KindInt, nil)
	require.ErrorIs(t, err, spec.ErrInvalidSpec)

	_, err = NewRolling(spec.Must(spec.RollingFormula(ticks(2, 0), "sumOf(x)", "x", "X")), value.KindInt, nil)
	require.ErrorIs(t, err, spec.ErrInvalidSpec)
}

func TestRing(t *testing.T) {
	var r ring[int]
	for i := 0; i < 5; i++ {
		r.PushBack(i)
	}
	require.Equal(t, 0, r.PopFront())
	require.Equal(t, 1, r.PopFront())
	// wrap around the backing array and grow past it
	for i := 5; i < 20; i++ {
		r.PushBack(i)
	}
	require.Equal(t, 18, r.Len())
	require.Equal(t, 19, r.PopBack())
	require.Equal(t, 2, *r.Front())
	require.Equal(t, 18, *r.Back())
	for i := 0; i < r.Len(); i++ {
		require.Equal(t, i+2, *r.At(i))
	}
	r.Clear()
	require.Zero(t, r.Len())
}
