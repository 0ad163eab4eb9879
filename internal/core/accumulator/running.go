package accumulator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

// State is a checkpoint of a running accumulator. It is a plain value and
// can be stored per row.
type State struct {
	started  bool
	poisoned bool
	n        int64
	i        int128
	f        float64
	v        float64 // EmStd variance
	d        decimal.Decimal
	overflow int8 // sign of an Int product that left int64, 0 while it fits
	last     value.Value
	ts       int64
}

// Started reports whether any row contributed since the last reset.
func (s State) Started() bool { return s.started }

type base struct {
	control window.Control
	out     value.Kind
	st      State
}

func (b *base) State() State     { return b.st }
func (b *base) Restore(st State) { b.st = st }
func (b *base) Reset()           { b.st = State{} }

// gate applies a screening verdict. It reports false when the row is not
// folded in; out is then the row's output. Reset also clears poison.
func (b *base) gate(verdict window.Verdict, current func() value.Value) (value.Value, bool) {
	switch verdict {
	case window.Reset:
		b.st = State{}
		return value.Null(b.out), false
	case window.Poison:
		b.st.poisoned = true
	}
	if b.st.poisoned {
		return value.Null(b.out), false
	}
	if verdict == window.Skip {
		return current(), false
	}
	return value.Value{}, true
}

type cumSum struct {
	base
	kind value.Kind
}

func (c *cumSum) current() value.Value {
	if !c.st.started {
		return value.Null(c.out)
	}
	switch c.kind {
	case value.KindInt:
		return intResult(c.st.i, c.control.BigOverflow)
	case value.KindDecimal:
		return value.Decimal(c.st.d)
	}
	return value.Float(c.st.f)
}

func (c *cumSum) Advance(s Sample) value.Value {
	if out, ok := c.gate(c.control.Screen(s.Val), c.current); !ok {
		return out
	}
	switch c.kind {
	case value.KindInt:
		c.st.i = c.st.i.add(s.Val.Int())
	case value.KindDecimal:
		c.st.d = c.st.d.Add(s.Val.Decimal())
	default:
		c.st.f += s.Val.Float()
	}
	c.st.started = true
	return c.current()
}

type cumProd struct {
	base
	kind value.Kind
}

func (c *cumProd) current() value.Value {
	if !c.st.started {
		return value.Null(c.out)
	}
	switch c.kind {
	case value.KindInt:
		if c.st.overflow != 0 {
			return overflowed(c.st.overflow < 0, c.control.BigOverflow)
		}
		return decimalIntResult(c.st.d, c.control.BigOverflow)
	case value.KindDecimal:
		return value.Decimal(c.st.d)
	}
	return value.Float(c.st.f)
}

// Int products are exact until they leave int64. From then on only the sign
// is kept, since every later output overflows until a zero arrives.
func (c *cumProd) Advance(s Sample) value.Value {
	if out, ok := c.gate(c.control.Screen(s.Val), c.current); !ok {
		return out
	}
	switch {
	case c.kind == value.KindInt:
		x := s.Val.Decimal()
		switch {
		case !c.st.started:
			c.st.d = x
		case c.st.overflow != 0:
			if x.IsZero() {
				c.st.d, c.st.overflow = decimal.Zero, 0
			} else if x.IsNegative() {
				c.st.overflow = -c.st.overflow
			}
		default:
			c.st.d = c.st.d.Mul(x)
		}
		if c.st.d.GreaterThan(maxInt64Decimal) || c.st.d.LessThan(minInt64Decimal) {
			c.st.overflow = int8(c.st.d.Sign())
			c.st.d = decimal.Zero
		}
	case c.kind == value.KindDecimal:
		if c.st.started {
			c.st.d = roundSignificant(c.st.d.Mul(s.Val.Decimal()), c.control.Precision())
		} else {
			c.st.d = s.Val.Decimal()
		}
	case c.st.started:
		c.st.f *= s.Val.Float()
	default:
		c.st.f = s.Val.Float()
	}
	c.st.started = true
	return c.current()
}

type cumExtreme struct {
	base
	max bool
}

func (c *cumExtreme) current() value.Value {
	if !c.st.started {
		return value.Null(c.out)
	}
	return c.st.last
}

func (c *cumExtreme) Advance(s Sample) value.Value {
	if out, ok := c.gate(c.control.Screen(s.Val), c.current); !ok {
		return out
	}
	if !c.st.started {
		c.st.last, c.st.started = s.Val, true
		return c.st.last
	}
	cmp := value.Compare(s.Val, c.st.last)
	if (c.max && cmp > 0) || (!c.max && cmp < 0) {
		c.st.last = s.Val
	}
	return c.st.last
}

// delta differences consecutive rows. It ignores the null policies: a null
// row outputs null and becomes the previous value of the next row, whose
// output the delta control then decides.
type delta struct {
	base
	kind value.Kind
	dc   window.DeltaControl
}

func (d *delta) Advance(s Sample) value.Value {
	cur, prev := s.Val, d.st.last
	d.st.last, d.st.started = cur, true
	if !cur.IsValid() {
		return value.Null(d.out)
	}
	if !prev.IsValid() {
		switch d.dc {
		case window.ValueDominates:
			if d.kind == value.KindTime {
				return value.Int(cur.Time())
			}
			return cur
		case window.ZeroDominates:
			return d.zero()
		}
		return value.Null(d.out)
	}
	switch d.kind {
	case value.KindInt, value.KindTime:
		return intResult(int128{}.add(cur.Int()).sub(prev.Int()), d.control.BigOverflow)
	case value.KindDecimal:
		return value.Decimal(cur.Decimal().Sub(prev.Decimal()))
	}
	return value.Float(cur.Float() - prev.Float())
}

func (d *delta) zero() value.Value {
	switch d.out {
	case value.KindDecimal:
		return value.Decimal(decimal.Zero)
	case value.KindFloat:
		return value.Float(0)
	}
	return value.Int(0)
}

type forwardFill struct{ base }

func (f *forwardFill) Advance(s Sample) value.Value {
	if s.Val.IsValid() {
		f.st.last, f.st.started = s.Val, true
		return s.Val
	}
	if !f.st.started {
		return value.Null(f.out)
	}
	return f.st.last
}

// exponential implements the Em* recurrences. With a tick decay alpha is
// fixed; with a time decay it is exp(-dt/tau) for the time since the last
// contributing row.
type exponential struct {
	base
	op    spec.Op
	alpha float64
	tau   float64 // nanoseconds; zero for tick decay
}

func (e *exponential) current() value.Value {
	if !e.st.started {
		return value.Null(value.KindFloat)
	}
	if e.op == spec.OpEmStd {
		if e.st.n < 2 {
			return value.Float(math.NaN())
		}
		return value.Float(math.Sqrt(e.st.v))
	}
	return value.Float(e.st.f)
}

func (e *exponential) Advance(s Sample) value.Value {
	verdict := e.control.Screen(s.Val)
	if verdict == window.Admit && e.tau > 0 {
		var dt int64
		if e.st.started {
			dt = s.TS - e.st.ts
		}
		verdict = e.control.ScreenTime(s.HasTS, dt)
	}
	if out, ok := e.gate(verdict, e.current); !ok {
		return out
	}

	x := s.Val.Float()
	if !e.st.started {
		e.st.started = true
		e.st.n = 1
		e.st.f, e.st.v, e.st.ts = x, 0, s.TS
		return e.current()
	}

	a := e.alpha
	if e.tau > 0 {
		a = math.Exp(-float64(s.TS-e.st.ts) / e.tau)
		e.st.ts = s.TS
	}
	switch e.op {
	case spec.OpEma:
		e.st.f = a*e.st.f + (1-a)*x
	case spec.OpEms:
		e.st.f = a*e.st.f + x
	case spec.OpEmMin:
		e.st.f = math.Min(a*e.st.f, x)
	case spec.OpEmMax:
		e.st.f = math.Max(a*e.st.f, x)
	case spec.OpEmStd:
		diff := x - e.st.f
		e.st.v = a * (e.st.v + (1-a)*diff*diff)
		e.st.f = a*e.st.f + (1-a)*x
	}
	e.st.n++
	return e.current()
}
