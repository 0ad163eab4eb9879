package spec

import (
	"fmt"
	"strings"
)

// Op is the closed set of update-by operations.
type Op uint8

const (
	OpInvalid Op = iota
	OpCumSum
	OpCumProd
	OpCumMin
	OpCumMax
	OpDelta
	OpForwardFill
	OpEma
	OpEms
	OpEmMin
	OpEmMax
	OpEmStd
	OpRollingSum
	OpRollingAvg
	OpRollingMin
	OpRollingMax
	OpRollingProd
	OpRollingStd
	OpRollingWavg
	OpRollingGroup
	OpRollingFormula
	OpRollingCount
)

var opNames = [...]string{
	OpInvalid:        "invalid",
	OpCumSum:         "cum_sum",
	OpCumProd:        "cum_prod",
	OpCumMin:         "cum_min",
	OpCumMax:         "cum_max",
	OpDelta:          "delta",
	OpForwardFill:    "forward_fill",
	OpEma:            "ema",
	OpEms:            "ems",
	OpEmMin:          "em_min",
	OpEmMax:          "em_max",
	OpEmStd:          "em_std",
	OpRollingSum:     "rolling_sum",
	OpRollingAvg:     "rolling_avg",
	OpRollingMin:     "rolling_min",
	OpRollingMax:     "rolling_max",
	OpRollingProd:    "rolling_prod",
	OpRollingStd:     "rolling_std",
	OpRollingWavg:    "rolling_wavg",
	OpRollingGroup:   "rolling_group",
	OpRollingFormula: "rolling_formula",
	OpRollingCount:   "rolling_count",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp converts an operation name such as "rolling_sum" into an Op.
// Names are case-insensitive and "-" may stand for "_".
func ParseOp(s string) (Op, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range opNames {
		if i != int(OpInvalid) && n == name {
			return Op(i), nil
		}
	}
	return OpInvalid, fmt.Errorf("%w: unknown operation %q", ErrInvalidSpec, s)
}

// Family is an operation's capability class.
type Family uint8

const (
	// FamilyCumulative ops fold every earlier row of the group.
	FamilyCumulative Family = iota + 1
	// FamilyExponential ops fold every earlier row with decaying weight.
	FamilyExponential
	// FamilyRolling ops aggregate a bounded tick or time window.
	FamilyRolling
)

// Family returns the capability class of o. Delta and ForwardFill are
// cumulative: their state is carried from row to row.
func (o Op) Family() Family {
	switch {
	case o >= OpCumSum && o <= OpForwardFill:
		return FamilyCumulative
	case o >= OpEma && o <= OpEmStd:
		return FamilyExponential
	case o >= OpRollingSum && o <= OpRollingCount:
		return FamilyRolling
	}
	return 0
}

// Running reports whether o is evaluated by advancing a carried state rather
// than by maintaining a window buffer.
func (o Op) Running() bool {
	f := o.Family()
	return f == FamilyCumulative || f == FamilyExponential
}

// inputClass is the set of column kinds an op accepts.
type inputClass uint8

const (
	classNumeric inputClass = iota + 1
	classOrderable
	classDifference
	classAny
)

func (o Op) inputClass() inputClass {
	switch o {
	case OpCumMin, OpCumMax, OpRollingMin, OpRollingMax:
		return classOrderable
	case OpDelta:
		return classDifference
	case OpForwardFill, OpRollingGroup, OpRollingFormula, OpRollingCount:
		return classAny
	}
	return classNumeric
}
