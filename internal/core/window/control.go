package window

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/updateby/internal/core/value"
)

// Policy decides what a bad input (null, NaN, null or backwards timestamp)
// does to an aggregate in progress.
type Policy uint8

const (
	// PolicySkip excludes the value and keeps accumulating later values.
	PolicySkip Policy = iota
	// PolicyReset clears the aggregate to its identity, as if the group restarted here.
	PolicyReset
	// PolicyPoison forces null outputs while the value remains in the window.
	PolicyPoison
)

func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyReset:
		return "reset"
	case PolicyPoison:
		return "poison"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy accepts "skip", "reset" (or "reset_group") and "poison".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return PolicySkip, nil
	case "reset", "reset_group":
		return PolicyReset, nil
	case "poison":
		return PolicyPoison, nil
	}
	return 0, fmt.Errorf("unknown bad-data policy %q (must be skip, reset or poison)", s)
}

// Overflow decides what happens when an integer result leaves int64 range.
type Overflow uint8

const (
	OverflowError Overflow = iota
	OverflowSaturate
)

func (o Overflow) String() string {
	if o == OverflowSaturate {
		return "saturate"
	}
	return "error"
}

// ParseOverflow accepts "error" and "saturate".
func ParseOverflow(s string) (Overflow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return OverflowError, nil
	case "saturate":
		return OverflowSaturate, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q (must be error or saturate)", s)
}

// DefaultBigValuePrecision is the significant digits kept by decimal
// division and decimal products.
const DefaultBigValuePrecision = 34

// Control is the per-operation bad-data policy. The zero value is the default
// configuration: skip nulls, NaNs and bad timestamps, report overflow as an error.
type Control struct {
	OnNull              Policy
	OnNaN               Policy
	OnNullTime          Policy
	OnNegativeDeltaTime Policy
	BigOverflow         Overflow
	BigValuePrecision   int32
}

// DefaultControl returns the default Control.
func DefaultControl() Control {
	return Control{BigValuePrecision: DefaultBigValuePrecision}
}

// Precision returns the significant digits kept by decimal division and
// decimal products.
func (c Control) Precision() int32 {
	if c.BigValuePrecision <= 0 {
		return DefaultBigValuePrecision
	}
	return c.BigValuePrecision
}

// Verdict is the outcome of screening one input value.
type Verdict uint8

const (
	Admit Verdict = iota
	Skip
	Reset
	Poison
)

// Screen applies OnNull/OnNaN to v. Errored inputs are treated as null.
func (c Control) Screen(v value.Value) Verdict {
	switch {
	case v.IsNull() || v.IsError():
		return verdictOf(c.OnNull)
	case v.IsNaN():
		return verdictOf(c.OnNaN)
	}
	return Admit
}

// ScreenTime applies OnNullTime and OnNegativeDeltaTime to a timestamp step.
func (c Control) ScreenTime(tsValid bool, delta int64) Verdict {
	switch {
	case !tsValid:
		return verdictOf(c.OnNullTime)
	case delta < 0:
		return verdictOf(c.OnNegativeDeltaTime)
	}
	return Admit
}

func verdictOf(p Policy) Verdict {
	switch p {
	case PolicyReset:
		return Reset
	case PolicyPoison:
		return Poison
	}
	return Skip
}

// ControlConfig is the declarative (YAML) shape of a Control.
type ControlConfig struct {
	OnNull              string `yaml:"on_null"`
	OnNaN               string `yaml:"on_nan"`
	OnNullTime          string `yaml:"on_null_time"`
	OnNegativeDeltaTime string `yaml:"on_negative_delta_time"`
	BigOverflow         string `yaml:"big_overflow"`
	BigValuePrecision   int32  `yaml:"big_value_precision"`
}

// ControlFromConfig parses a ControlConfig. Empty fields keep their defaults.
func ControlFromConfig(c ControlConfig) (Control, error) {
	out := DefaultControl()
	var err error
	if out.OnNull, err = ParsePolicy(c.OnNull); err != nil {
		return Control{}, fmt.Errorf("on_null: %w", err)
	}
	if out.OnNaN, err = ParsePolicy(c.OnNaN); err != nil {
		return Control{}, fmt.Errorf("on_nan: %w", err)
	}
	if out.OnNullTime, err = ParsePolicy(c.OnNullTime); err != nil {
		return Control{}, fmt.Errorf("on_null_time: %w", err)
	}
	if out.OnNegativeDeltaTime, err = ParsePolicy(c.OnNegativeDeltaTime); err != nil {
		return Control{}, fmt.Errorf("on_negative_delta_time: %w", err)
	}
	if out.BigOverflow, err = ParseOverflow(c.BigOverflow); err != nil {
		return Control{}, fmt.Errorf("big_overflow: %w", err)
	}
	if c.BigValuePrecision < 0 {
		return Control{}, fmt.Errorf("big_value_precision must be >= 0, got %d", c.BigValuePrecision)
	}
	if c.BigValuePrecision > 0 {
		out.BigValuePrecision = c.BigValuePrecision
	}
	return out, nil
}

// DeltaControl decides the output of a delta when the previous row is null.
type DeltaControl uint8

const (
	// NullDominates outputs null when either side is null.
	NullDominates DeltaControl = iota
	// ValueDominates outputs the current value when the previous one is null.
	ValueDominates
	// ZeroDominates outputs zero when the previous value is null.
	ZeroDominates
)

// ParseDeltaControl accepts "null_dominates", "value_dominates" and "zero_dominates".
func ParseDeltaControl(s string) (DeltaControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null_dominates":
		return NullDominates, nil
	case "value_dominates":
		return ValueDominates, nil
	case "zero_dominates":
		return ZeroDominates, nil
	}
	return 0, fmt.Errorf("unknown delta control %q", s)
}
