package accumulator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

type sumKernel struct {
	s        summer
	overflow window.Overflow
}

func (k *sumKernel) add(e *entry)    { k.s.add(e.Val) }
func (k *sumKernel) remove(e *entry) { k.s.sub(e.Val) }
func (k *sumKernel) clear()          { k.s.clear() }

func (k *sumKernel) result(r *rolling) value.Value {
	if r.counted == 0 {
		return value.Null(r.out)
	}
	return k.s.value(k.overflow)
}

type avgKernel struct {
	s    summer
	prec int32
}

func (k *avgKernel) add(e *entry)    { k.s.add(e.Val) }
func (k *avgKernel) remove(e *entry) { k.s.sub(e.Val) }
func (k *avgKernel) clear()          { k.s.clear() }

func (k *avgKernel) result(r *rolling) value.Value {
	if r.counted == 0 {
		return value.Null(value.KindFloat)
	}
	if k.s.kind == value.KindDecimal {
		return value.Float(quo(k.s.d, decimal.NewFromInt(int64(r.counted)), k.prec).InexactFloat64())
	}
	return value.Float(k.s.float() / float64(r.counted))
}

// stdKernel computes the sample standard deviation. Int and Decimal inputs
// keep exact sums so the variance numerator never cancels catastrophically.
type stdKernel struct {
	exact      bool
	sum, sumSq decimal.Decimal
	fsum, fsq  floatSum
}

func (k *stdKernel) add(e *entry) {
	if k.exact {
		d := e.Val.Decimal()
		k.sum = k.sum.Add(d)
		k.sumSq = k.sumSq.Add(d.Mul(d))
		return
	}
	x := e.Val.Float()
	k.fsum.add(x)
	k.fsq.add(x * x)
}

func (k *stdKernel) remove(e *entry) {
	if k.exact {
		d := e.Val.Decimal()
		k.sum = k.sum.Sub(d)
		k.sumSq = k.sumSq.Sub(d.Mul(d))
		return
	}
	x := e.Val.Float()
	k.fsum.sub(x)
	k.fsq.sub(x * x)
}

func (k *stdKernel) clear() {
	k.sum, k.sumSq = decimal.Zero, decimal.Zero
	k.fsum, k.fsq = floatSum{}, floatSum{}
}

func (k *stdKernel) result(r *rolling) value.Value {
	n := r.counted
	switch n {
	case 0:
		return value.Null(value.KindFloat)
	case 1:
		return value.Float(math.NaN())
	}
	if k.exact {
		dn := decimal.NewFromInt(int64(n))
		num := dn.Mul(k.sumSq).Sub(k.sum.Mul(k.sum))
		variance := num.InexactFloat64() / (float64(n) * float64(n-1))
		return value.Float(math.Sqrt(math.Max(variance, 0)))
	}
	s, sq := k.fsum.value(), k.fsq.value()
	variance := (sq - s*s/float64(n)) / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return value.Float(math.Sqrt(variance))
}

type countKernel struct{}

func (countKernel) add(*entry)    {}
func (countKernel) remove(*entry) {}
func (countKernel) clear()        {}

func (countKernel) result(r *rolling) value.Value { return value.Int(int64(r.counted)) }

type wavgKernel struct {
	weighted floatSum
	weights  floatSum
}

func (k *wavgKernel) add(e *entry) {
	w := e.Weight.Float()
	k.weighted.add(e.Val.Float() * w)
	k.weights.add(w)
}

func (k *wavgKernel) remove(e *entry) {
	w := e.Weight.Float()
	k.weighted.sub(e.Val.Float() * w)
	k.weights.sub(w)
}

func (k *wavgKernel) clear() { k.weighted, k.weights = floatSum{}, floatSum{} }

func (k *wavgKernel) result(r *rolling) value.Value {
	if r.counted == 0 {
		return value.Null(value.KindFloat)
	}
	return value.Float(k.weighted.value() / k.weights.value())
}

type prodKernel struct {
	m        multiplier
	overflow window.Overflow
}

func (k *prodKernel) add(e *entry)    { k.m.add(e.Val) }
func (k *prodKernel) remove(e *entry) { k.m.sub(e.Val) }
func (k *prodKernel) clear()          { k.m.clear() }

func (k *prodKernel) result(r *rolling) value.Value {
	if r.counted == 0 {
		return value.Null(r.out)
	}
	return k.m.value(k.overflow)
}

type candidate struct {
	seq uint64
	v   value.Value
}

// extremeKernel is a monotonic deque. For min the values are non-decreasing
// front to back; a new value pops strictly greater ones, so among equal
// values the earliest stays in front.
type extremeKernel struct {
	max bool
	dq  ring[candidate]
}

func (k *extremeKernel) beats(a, b value.Value) bool {
	if k.max {
		return value.Compare(a, b) > 0
	}
	return value.Compare(a, b) < 0
}

func (k *extremeKernel) add(e *entry) {
	for k.dq.Len() > 0 && k.beats(e.Val, k.dq.Back().v) {
		k.dq.PopBack()
	}
	k.dq.PushBack(candidate{seq: e.seq, v: e.Val})
}

func (k *extremeKernel) remove(e *entry) {
	if k.dq.Len() > 0 && k.dq.Front().seq == e.seq {
		k.dq.PopFront()
	}
}

func (k *extremeKernel) clear() { k.dq.Clear() }

func (k *extremeKernel) result(r *rolling) value.Value {
	if r.counted == 0 || k.dq.Len() == 0 {
		return value.Null(r.out)
	}
	return k.dq.Front().v
}

// groupKernel and formulaKernel recompute from the buffer on every Result.
type groupKernel struct{}

func (groupKernel) add(*entry)    {}
func (groupKernel) remove(*entry) {}
func (groupKernel) clear()        {}

func (groupKernel) result(r *rolling) value.Value {
	if r.counted == 0 {
		return value.Null(value.KindList)
	}
	items := make([]value.Value, 0, r.counted)
	r.each(func(e *entry) { items = append(items, e.Val) })
	return value.List(items)
}

type formulaKernel struct{ prog *Program }

func (formulaKernel) add(*entry)    {}
func (formulaKernel) remove(*entry) {}
func (formulaKernel) clear()        {}

func (k formulaKernel) result(r *rolling) value.Value {
	if r.counted == 0 {
		return value.Null(value.KindInvalid)
	}
	args := make([]any, 0, r.counted)
	r.each(func(e *entry) { args = append(args, formulaArg(e.Val)) })
	return k.prog.Eval(args)
}
