package accumulator

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

// int128 is a two's complement 128-bit integer. Sums of int64 inputs are
// kept at this width so that evicting a value always undoes adding it, even
// when an intermediate sum leaves the int64 range.
type int128 struct {
	hi int64
	lo uint64
}

func (a int128) add(x int64) int128 {
	lo, carry := bits.Add64(a.lo, uint64(x), 0)
	hi := a.hi + int64(carry)
	if x < 0 {
		hi--
	}
	return int128{hi: hi, lo: lo}
}

func (a int128) sub(x int64) int128 {
	lo, borrow := bits.Sub64(a.lo, uint64(x), 0)
	hi := a.hi - int64(borrow)
	if x < 0 {
		hi++
	}
	return int128{hi: hi, lo: lo}
}

func (a int128) isZero() bool { return a.hi == 0 && a.lo == 0 }

// int64 returns a as an int64 and whether it fits.
func (a int128) int64() (int64, bool) {
	switch {
	case a.hi == 0 && a.lo <= math.MaxInt64:
		return int64(a.lo), true
	case a.hi == -1 && a.lo > math.MaxInt64:
		return int64(a.lo), true
	}
	return 0, false
}

func (a int128) float64() float64 {
	return float64(a.hi)*(1<<64) + float64(a.lo)
}

func (a int128) negative() bool { return a.hi < 0 }

// intResult converts an exact integer result to an Int value under the
// overflow policy.
func intResult(a int128, o window.Overflow) value.Value {
	if v, ok := a.int64(); ok {
		return value.Int(v)
	}
	return overflowed(a.negative(), o)
}

func overflowed(negative bool, o window.Overflow) value.Value {
	if o == window.OverflowSaturate {
		if negative {
			return value.Int(math.MinInt64)
		}
		return value.Int(math.MaxInt64)
	}
	return value.Errored(value.KindInt, fmt.Errorf("%w: result exceeds int64", coreerr.ErrNumericOverflow))
}

var (
	maxInt64Decimal = decimal.NewFromInt(math.MaxInt64)
	minInt64Decimal = decimal.NewFromInt(math.MinInt64)
)

// decimalIntResult converts an integral decimal to an Int value under the
// overflow policy.
func decimalIntResult(d decimal.Decimal, o window.Overflow) value.Value {
	if d.GreaterThan(maxInt64Decimal) || d.LessThan(minInt64Decimal) {
		return overflowed(d.IsNegative(), o)
	}
	return value.Int(d.IntPart())
}

// floatSum sums finite floats and counts infinities apart, so removing an
// infinity never turns the sum into NaN.
type floatSum struct {
	sum    float64
	posInf int
	negInf int
}

func (s *floatSum) add(x float64) {
	switch {
	case math.IsInf(x, 1):
		s.posInf++
	case math.IsInf(x, -1):
		s.negInf++
	default:
		s.sum += x
	}
}

func (s *floatSum) sub(x float64) {
	switch {
	case math.IsInf(x, 1):
		s.posInf--
	case math.IsInf(x, -1):
		s.negInf--
	default:
		s.sum -= x
	}
}

func (s *floatSum) value() float64 {
	switch {
	case s.posInf > 0 && s.negInf > 0:
		return math.NaN()
	case s.posInf > 0:
		return math.Inf(1)
	case s.negInf > 0:
		return math.Inf(-1)
	}
	return s.sum
}

// summer is a kind-specialised running sum with exact removal for Int and
// Decimal inputs.
type summer struct {
	kind value.Kind
	i    int128
	f    floatSum
	d    decimal.Decimal
}

func (s *summer) add(v value.Value) {
	switch s.kind {
	case value.KindInt:
		s.i = s.i.add(v.Int())
	case value.KindDecimal:
		s.d = s.d.Add(v.Decimal())
	default:
		s.f.add(v.Float())
	}
}

func (s *summer) sub(v value.Value) {
	switch s.kind {
	case value.KindInt:
		s.i = s.i.sub(v.Int())
	case value.KindDecimal:
		s.d = s.d.Sub(v.Decimal())
	default:
		s.f.sub(v.Float())
	}
}

func (s *summer) clear() {
	s.i = int128{}
	s.f = floatSum{}
	s.d = decimal.Zero
}

// value returns the sum in the input's kind.
func (s *summer) value(o window.Overflow) value.Value {
	switch s.kind {
	case value.KindInt:
		return intResult(s.i, o)
	case value.KindDecimal:
		return value.Decimal(s.d)
	}
	return value.Float(s.f.value())
}

func (s *summer) float() float64 {
	switch s.kind {
	case value.KindInt:
		return s.i.float64()
	case value.KindDecimal:
		return s.d.InexactFloat64()
	}
	return s.f.value()
}

// magnitude is the number of digits before the decimal point of a non-zero
// d; it is zero or negative when |d| < 1.
func magnitude(d decimal.Decimal) int32 {
	c := d.Coefficient()
	return int32(len(c.Abs(c).String())) + d.Exponent()
}

// roundSignificant rounds d half to even to prec significant digits.
func roundSignificant(d decimal.Decimal, prec int32) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	places := prec - magnitude(d)
	if places >= -d.Exponent() {
		return d
	}
	return d.RoundBank(places)
}

// quo divides a by b to prec significant digits.
func quo(a, b decimal.Decimal, prec int32) decimal.Decimal {
	places := prec - magnitude(a) + magnitude(b) + 1
	if places < 0 {
		places = 0
	}
	return roundSignificant(a.DivRound(b, places), prec)
}

// multiplier keeps the product of the non-zero inputs and the number of
// zeros, so a zero leaving the window restores the product without
// dividing by it. Int inputs multiply exactly as decimals; Decimal results
// are rounded to prec significant digits only when read.
type multiplier struct {
	kind  value.Kind
	prec  int32
	zeros int
	f     float64
	d     decimal.Decimal
}

func newMultiplier(kind value.Kind, prec int32) multiplier {
	return multiplier{kind: kind, prec: prec, f: 1, d: decimal.NewFromInt(1)}
}

func (m *multiplier) exact() bool { return m.kind == value.KindInt || m.kind == value.KindDecimal }

func (m *multiplier) add(v value.Value) {
	if m.exact() {
		d := v.Decimal()
		if d.IsZero() {
			m.zeros++
			return
		}
		m.d = m.d.Mul(d)
		return
	}
	x := v.Float()
	if x == 0 {
		m.zeros++
		return
	}
	m.f *= x
}

func (m *multiplier) sub(v value.Value) {
	if m.exact() {
		d := v.Decimal()
		if d.IsZero() {
			m.zeros--
			return
		}
		m.d = exactQuo(m.d, d)
		return
	}
	x := v.Float()
	if x == 0 {
		m.zeros--
		return
	}
	m.f /= x
}

func (m *multiplier) clear() {
	*m = newMultiplier(m.kind, m.prec)
}

func (m *multiplier) value(o window.Overflow) value.Value {
	switch m.kind {
	case value.KindInt:
		if m.zeros > 0 {
			return value.Int(0)
		}
		return decimalIntResult(m.d, o)
	case value.KindDecimal:
		if m.zeros > 0 {
			return value.Decimal(decimal.Zero)
		}
		return value.Decimal(roundSignificant(m.d, m.prec))
	}
	if m.zeros > 0 {
		return value.Float(0)
	}
	return value.Float(m.f)
}

// exactQuo divides a product by one of its factors. Multiplication adds
// exponents, so the quotient needs at most x.Exponent()-p.Exponent() places.
func exactQuo(p, x decimal.Decimal) decimal.Decimal {
	places := x.Exponent() - p.Exponent()
	if places < 0 {
		places = 0
	}
	q, _ := p.QuoRem(x, places)
	return q
}
