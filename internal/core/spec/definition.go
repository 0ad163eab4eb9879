package spec

import (
	"fmt"

	"github.com/aevon-lab/updateby/internal/core/window"
)

// Definition is the on-disk YAML shape of one operation.
//
//	- op: rolling_sum
//	  columns: ["SumX=X"]
//	  window: {rev_ticks: 3}
//	  control: {on_null: poison}
type Definition struct {
	Op           string               `yaml:"op"`
	Columns      []string             `yaml:"columns"`
	Window       *window.ScaleConfig  `yaml:"window,omitempty"`
	Decay        *window.DecayConfig  `yaml:"decay,omitempty"`
	Control      window.ControlConfig `yaml:"control,omitempty"`
	DeltaControl string               `yaml:"delta_control,omitempty"`
	Weight       string               `yaml:"weight,omitempty"`
	Formula      string               `yaml:"formula,omitempty"`
	Param        string               `yaml:"param,omitempty"`
}

// Spec validates the definition and builds the Spec it describes.
func (d Definition) Spec() (Spec, error) {
	op, err := ParseOp(d.Op)
	if err != nil {
		return Spec{}, err
	}

	var scale window.Scale
	switch op.Family() {
	case FamilyExponential:
		if d.Decay == nil {
			return Spec{}, fmt.Errorf("%w: %s needs a decay", ErrInvalidSpec, op)
		}
		if scale, err = window.FromDecayConfig(*d.Decay); err != nil {
			return Spec{}, fmt.Errorf("%s: %w", op, err)
		}
	case FamilyRolling:
		if d.Window == nil {
			return Spec{}, fmt.Errorf("%w: %s needs a window", ErrInvalidSpec, op)
		}
		if scale, err = window.FromConfig(*d.Window); err != nil {
			return Spec{}, fmt.Errorf("%s: %w", op, err)
		}
	default:
		if d.Window != nil || d.Decay != nil {
			return Spec{}, fmt.Errorf("%w: %s takes no window", ErrInvalidSpec, op)
		}
	}

	control, err := window.ControlFromConfig(d.Control)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s control: %v", ErrInvalidSpec, op, err)
	}
	dc, err := window.ParseDeltaControl(d.DeltaControl)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, op, err)
	}

	var s Spec
	switch op {
	case OpRollingWavg:
		s, err = RollingWavg(scale, d.Weight, d.Columns...)
	case OpRollingFormula:
		s, err = RollingFormula(scale, d.Formula, d.Param, d.Columns...)
	default:
		s, err = New(op, scale, d.Columns...)
	}
	if err != nil {
		return Spec{}, err
	}
	s.control = control
	s.delta = dc
	return s, nil
}
