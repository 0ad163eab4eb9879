package accumulator

import (
	"fmt"
	"math"

	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// NewRolling builds the rolling accumulator of s for one group, fed by an
// input column of kind in. formulas is only consulted for RollingFormula.
func NewRolling(s spec.Spec, in value.Kind, formulas *Formulas) (Rolling, error) {
	if s.Op().Family() != spec.FamilyRolling {
		return nil, fmt.Errorf("%w: %s is not a rolling operation", spec.ErrInvalidSpec, s.Op())
	}
	c := s.Control()
	out := s.OutputKind(in)

	var capacity int64
	if sc := s.Scale(); sc.IsTicks() {
		capacity = sc.RevTicks() + sc.FwdTicks()
	}

	var k kernel
	switch s.Op() {
	case spec.OpRollingSum:
		k = &sumKernel{s: summer{kind: in}, overflow: c.BigOverflow}
	case spec.OpRollingAvg:
		k = &avgKernel{s: summer{kind: in}, prec: c.Precision()}
	case spec.OpRollingStd:
		k = &stdKernel{exact: in == value.KindInt || in == value.KindDecimal}
	case spec.OpRollingCount:
		k = countKernel{}
	case spec.OpRollingWavg:
		k = &wavgKernel{}
	case spec.OpRollingProd:
		k = &prodKernel{m: newMultiplier(in, c.Precision()), overflow: c.BigOverflow}
	case spec.OpRollingMin:
		k = &extremeKernel{}
	case spec.OpRollingMax:
		k = &extremeKernel{max: true}
	case spec.OpRollingGroup:
		k = groupKernel{}
	case spec.OpRollingFormula:
		if formulas == nil {
			return nil, fmt.Errorf("%w: %s needs a formula cache", spec.ErrInvalidSpec, s.Op())
		}
		prog, err := formulas.Compile(s.Formula(), s.Param())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", spec.ErrInvalidSpec, err)
		}
		k = formulaKernel{prog: prog}
	default:
		return nil, fmt.Errorf("%w: no rolling accumulator for %s", spec.ErrInvalidSpec, s.Op())
	}

	r := newRolling(c, capacity, out, k)
	r.weighted = s.Op() == spec.OpRollingWavg
	return r, nil
}

// NewRunning builds the running accumulator of s for one group.
func NewRunning(s spec.Spec, in value.Kind) (Running, error) {
	if !s.Op().Running() {
		return nil, fmt.Errorf("%w: %s is not a running operation", spec.ErrInvalidSpec, s.Op())
	}
	b := base{control: s.Control(), out: s.OutputKind(in)}

	switch s.Op() {
	case spec.OpCumSum:
		return &cumSum{base: b, kind: in}, nil
	case spec.OpCumProd:
		return &cumProd{base: b, kind: in}, nil
	case spec.OpCumMin:
		return &cumExtreme{base: b}, nil
	case spec.OpCumMax:
		return &cumExtreme{base: b, max: true}, nil
	case spec.OpDelta:
		return &delta{base: b, kind: in, dc: s.DeltaControl()}, nil
	case spec.OpForwardFill:
		return &forwardFill{base: b}, nil
	case spec.OpEma, spec.OpEms, spec.OpEmMin, spec.OpEmMax, spec.OpEmStd:
		e := &exponential{base: b, op: s.Op()}
		sc := s.Scale()
		if sc.IsTime() {
			e.tau = float64(sc.DecayTau().Nanoseconds())
		} else {
			e.alpha = math.Exp(-1 / float64(sc.DecayTicksValue()))
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: no running accumulator for %s", spec.ErrInvalidSpec, s.Op())
}
