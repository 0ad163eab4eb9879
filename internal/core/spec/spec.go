package spec

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

// ErrInvalidSpec is returned for a malformed operation descriptor: unknown
// op, bad column pair, missing formula or a scale of the wrong shape.
var ErrInvalidSpec = errors.New("invalid update-by spec")

// Pair maps one input column to one output column.
type Pair struct {
	Out string
	In  string
}

func (p Pair) String() string {
	if p.Out == p.In {
		return p.In
	}
	return p.Out + "=" + p.In
}

// ParsePair parses "Out=In", or "X" for an output that replaces its input name.
func ParsePair(s string) (Pair, error) {
	out, in, found := strings.Cut(s, "=")
	out = strings.TrimSpace(out)
	in = strings.TrimSpace(in)
	if !found {
		in = out
	}
	if out == "" || in == "" {
		return Pair{}, fmt.Errorf("%w: bad column pair %q", ErrInvalidSpec, s)
	}
	return Pair{Out: out, In: in}, nil
}

// Spec is an immutable update-by operation descriptor. Build it with one of
// the constructors and refine it with the With* methods, which return copies.
type Spec struct {
	op      Op
	pairs   []Pair
	scale   window.Scale
	control window.Control
	delta   window.DeltaControl
	weight  string
	formula string
	param   string
}

// New builds a spec for any op. Cumulative ops ignore scale; exponential ops
// need a decay scale; rolling ops need a tick or time window.
func New(op Op, scale window.Scale, columns ...string) (Spec, error) {
	if op.Family() == 0 {
		return Spec{}, fmt.Errorf("%w: unknown operation %s", ErrInvalidSpec, op)
	}
	if len(columns) == 0 {
		return Spec{}, fmt.Errorf("%w: %s needs at least one column", ErrInvalidSpec, op)
	}
	pairs := make([]Pair, 0, len(columns))
	for _, c := range columns {
		p, err := ParsePair(c)
		if err != nil {
			return Spec{}, err
		}
		pairs = append(pairs, p)
	}

	switch op.Family() {
	case FamilyCumulative:
		scale = window.Cumulative()
	case FamilyExponential:
		if !scale.IsDecay() {
			return Spec{}, fmt.Errorf("%w: %s needs a decay scale, got %s", coreerr.ErrInvalidWindow, op, scale)
		}
	case FamilyRolling:
		if scale.IsDecay() || !(scale.IsTicks() || scale.IsTime()) {
			return Spec{}, fmt.Errorf("%w: %s needs a tick or time window, got %s", coreerr.ErrInvalidWindow, op, scale)
		}
	}
	return Spec{op: op, pairs: pairs, scale: scale, control: window.DefaultControl()}, nil
}

// Must panics if err is non-nil.
func Must(s Spec, err error) Spec {
	if err != nil {
		panic(err)
	}
	return s
}

func CumSum(columns ...string) (Spec, error)  { return New(OpCumSum, window.Scale{}, columns...) }
func CumProd(columns ...string) (Spec, error) { return New(OpCumProd, window.Scale{}, columns...) }
func CumMin(columns ...string) (Spec, error)  { return New(OpCumMin, window.Scale{}, columns...) }
func CumMax(columns ...string) (Spec, error)  { return New(OpCumMax, window.Scale{}, columns...) }

// ForwardFill replaces nulls with the last non-null value of the group.
func ForwardFill(columns ...string) (Spec, error) {
	return New(OpForwardFill, window.Scale{}, columns...)
}

// Delta outputs the difference between each row and the previous row of its group.
// Inputs must have a difference: Int, Float, Decimal, or Time (whose delta is
// Int nanoseconds). String and Bool columns fail CheckTypes.
func Delta(dc window.DeltaControl, columns ...string) (Spec, error) {
	s, err := New(OpDelta, window.Scale{}, columns...)
	if err != nil {
		return Spec{}, err
	}
	s.delta = dc
	return s, nil
}

func Ema(decay window.Scale, columns ...string) (Spec, error)   { return New(OpEma, decay, columns...) }
func Ems(decay window.Scale, columns ...string) (Spec, error)   { return New(OpEms, decay, columns...) }
func EmMin(decay window.Scale, columns ...string) (Spec, error) { return New(OpEmMin, decay, columns...) }
func EmMax(decay window.Scale, columns ...string) (Spec, error) { return New(OpEmMax, decay, columns...) }
func EmStd(decay window.Scale, columns ...string) (Spec, error) { return New(OpEmStd, decay, columns...) }

func RollingSum(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingSum, w, columns...)
}

func RollingAvg(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingAvg, w, columns...)
}

func RollingMin(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingMin, w, columns...)
}

func RollingMax(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingMax, w, columns...)
}

func RollingProd(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingProd, w, columns...)
}

func RollingStd(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingStd, w, columns...)
}

func RollingGroup(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingGroup, w, columns...)
}

func RollingCount(w window.Scale, columns ...string) (Spec, error) {
	return New(OpRollingCount, w, columns...)
}

// RollingWavg averages the window weighted by weightColumn.
func RollingWavg(w window.Scale, weightColumn string, columns ...string) (Spec, error) {
	if strings.TrimSpace(weightColumn) == "" {
		return Spec{}, fmt.Errorf("%w: rolling_wavg needs a weight column", ErrInvalidSpec)
	}
	s, err := New(OpRollingWavg, w, columns...)
	if err != nil {
		return Spec{}, err
	}
	s.weight = weightColumn
	return s, nil
}

// RollingFormula evaluates formula once per row over the window. Inside the
// formula, param names the list of the window's non-null input values.
func RollingFormula(w window.Scale, formula, param string, columns ...string) (Spec, error) {
	if strings.TrimSpace(formula) == "" {
		return Spec{}, fmt.Errorf("%w: rolling_formula needs a formula", ErrInvalidSpec)
	}
	if !isIdent(param) {
		return Spec{}, fmt.Errorf("%w: formula parameter %q is not an identifier", ErrInvalidSpec, param)
	}
	s, err := New(OpRollingFormula, w, columns...)
	if err != nil {
		return Spec{}, err
	}
	s.formula = formula
	s.param = param
	return s, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// WithControl returns a copy of s using c.
func (s Spec) WithControl(c window.Control) Spec {
	s.pairs = slices.Clone(s.pairs)
	s.control = c
	return s
}

// WithDeltaControl returns a copy of s using dc. Only Delta reads it.
func (s Spec) WithDeltaControl(dc window.DeltaControl) Spec {
	s.pairs = slices.Clone(s.pairs)
	s.delta = dc
	return s
}

func (s Spec) Op() Op                            { return s.op }
func (s Spec) Scale() window.Scale               { return s.scale }
func (s Spec) Control() window.Control           { return s.control }
func (s Spec) DeltaControl() window.DeltaControl { return s.delta }
func (s Spec) WeightColumn() string              { return s.weight }
func (s Spec) Formula() string                   { return s.formula }
func (s Spec) Param() string                     { return s.param }
func (s Spec) Pairs() []Pair                     { return slices.Clone(s.pairs) }

// InputColumns returns every column s reads, timestamp column included.
func (s Spec) InputColumns() []string {
	var out []string
	for _, p := range s.pairs {
		out = append(out, p.In)
	}
	if s.weight != "" {
		out = append(out, s.weight)
	}
	if ts := s.scale.TimestampColumn(); ts != "" {
		out = append(out, ts)
	}
	return out
}

// OutputColumns returns the output column names in declaration order.
func (s Spec) OutputColumns() []string {
	out := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		out[i] = p.Out
	}
	return out
}

func (s Spec) String() string {
	cols := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		cols[i] = p.String()
	}
	return fmt.Sprintf("%s(%s; %s)", s.op, strings.Join(cols, ", "), s.scale)
}

// KindLookup resolves a column's kind.
type KindLookup func(column string) (value.Kind, bool)

// CheckTypes validates every column s reads against lookup.
func (s Spec) CheckTypes(lookup KindLookup) error {
	for _, p := range s.pairs {
		k, ok := lookup(p.In)
		if !ok {
			return fmt.Errorf("%w: %s: column %q does not exist", coreerr.ErrUnsupportedType, s.op, p.In)
		}
		if !accepts(s.op.inputClass(), k) {
			return fmt.Errorf("%w: %s cannot take %s column %q", coreerr.ErrUnsupportedType, s.op, k, p.In)
		}
	}
	if s.weight != "" {
		k, ok := lookup(s.weight)
		if !ok {
			return fmt.Errorf("%w: %s: weight column %q does not exist", coreerr.ErrUnsupportedType, s.op, s.weight)
		}
		if !k.Numeric() {
			return fmt.Errorf("%w: %s weight column %q is %s, want numeric", coreerr.ErrUnsupportedType, s.op, s.weight, k)
		}
	}
	if ts := s.scale.TimestampColumn(); ts != "" {
		k, ok := lookup(ts)
		if !ok {
			return fmt.Errorf("%w: %s: timestamp column %q does not exist", coreerr.ErrUnsupportedType, s.op, ts)
		}
		if k != value.KindTime && k != value.KindInt {
			return fmt.Errorf("%w: %s timestamp column %q is %s, want time or int", coreerr.ErrUnsupportedType, s.op, ts, k)
		}
	}
	return nil
}

func accepts(c inputClass, k value.Kind) bool {
	switch c {
	case classNumeric:
		return k.Numeric()
	case classOrderable:
		return k.Orderable()
	case classDifference:
		return k.Numeric() || k == value.KindTime
	}
	return k != value.KindInvalid
}

// OutputKind is the kind of the output column fed by an input of kind in.
// RollingFormula outputs are typed per row and report KindInvalid.
func (s Spec) OutputKind(in value.Kind) value.Kind {
	switch s.op {
	case OpRollingAvg, OpRollingStd, OpRollingWavg, OpEma, OpEms, OpEmMin, OpEmMax, OpEmStd:
		return value.KindFloat
	case OpRollingCount:
		return value.KindInt
	case OpRollingGroup:
		return value.KindList
	case OpRollingFormula:
		return value.KindInvalid
	case OpDelta:
		if in == value.KindTime {
			return value.KindInt
		}
	}
	return in
}
