package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/storage/memory"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// ErrInvalidScenario is returned when a scenario file is malformed.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a replayable history of table mutations: a schema, the rows
// present at bootstrap, and the cycles applied after it.
//
//	name: trades
//	columns:
//	  - {name: Sym, kind: string}
//	  - {name: Px, kind: float}
//	plan_ref: trade-stats
//	rows:
//	  - {key: 0, values: {Sym: A, Px: 10}}
//	cycles:
//	  - add: [{key: 1, values: {Sym: A, Px: 11}}]
//	    expect: {AvgPx: {1: 10.5}}
type Scenario struct {
	Name    string      `yaml:"name"`
	Columns []ColumnDef `yaml:"columns"`
	Plan    *spec.Plan  `yaml:"plan,omitempty"`
	PlanRef string      `yaml:"plan_ref,omitempty"`
	Rows    []RowDef    `yaml:"rows"`
	Expect  Expect      `yaml:"expect,omitempty"` // checked after bootstrap
	Cycles  []CycleDef  `yaml:"cycles"`
}

type ColumnDef struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

type RowDef struct {
	Key    int64          `yaml:"key"`
	Values map[string]any `yaml:"values"`
}

type ShiftDef struct {
	Start int64 `yaml:"start"`
	End   int64 `yaml:"end"`
	Delta int64 `yaml:"delta"`
}

// CycleDef is one cycle's mutations, applied in key-space order: removals,
// shifts, modifications, additions. Seal runs after the cycle commits.
type CycleDef struct {
	Remove  []int64    `yaml:"remove,omitempty"`
	Shift   []ShiftDef `yaml:"shift,omitempty"`
	Modify  []RowDef   `yaml:"modify,omitempty"`
	Add     []RowDef   `yaml:"add,omitempty"`
	Seal    [][]any    `yaml:"seal,omitempty"` // group-by tuples
	SealAll bool       `yaml:"seal_all,omitempty"`
	Expect  Expect     `yaml:"expect,omitempty"`
}

// Expect maps output column -> row key -> expected value. A null YAML value
// expects a null output and the string "<error>" expects an errored one.
type Expect map[string]map[int64]any

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the parts of a scenario that do not need a table.
func (s *Scenario) Validate() error {
	var errs error
	if strings.TrimSpace(s.Name) == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: name is required", ErrInvalidScenario))
	}
	if len(s.Columns) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: no columns", ErrInvalidScenario))
	}
	for i, c := range s.Columns {
		if _, err := value.ParseKind(c.Kind); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: column %d (%s): %v", ErrInvalidScenario, i, c.Name, err))
		}
	}
	switch {
	case s.Plan != nil && s.PlanRef != "":
		errs = multierr.Append(errs, fmt.Errorf("%w: plan and plan_ref are mutually exclusive", ErrInvalidScenario))
	case s.Plan == nil && s.PlanRef == "":
		errs = multierr.Append(errs, fmt.Errorf("%w: one of plan or plan_ref is required", ErrInvalidScenario))
	case s.Plan != nil:
		if _, err := s.Plan.Specs(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", ErrInvalidScenario, err))
		}
	}
	for i, c := range s.Cycles {
		for _, sh := range c.Shift {
			if sh.End < sh.Start {
				errs = multierr.Append(errs, fmt.Errorf("%w: cycle %d: shift end %d before start %d", ErrInvalidScenario, i+1, sh.End, sh.Start))
			}
		}
		if c.SealAll && len(c.Seal) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: cycle %d: seal and seal_all are mutually exclusive", ErrInvalidScenario, i+1))
		}
	}
	return errs
}

// ResolvePlan returns the inline plan or looks plan_ref up in plans.
func (s *Scenario) ResolvePlan(plans []spec.Plan) (spec.Plan, error) {
	if s.Plan != nil {
		p := *s.Plan
		if p.Name == "" {
			p.Name = s.Name
		}
		return p, nil
	}
	for _, p := range plans {
		if p.Name == s.PlanRef {
			return p, nil
		}
	}
	return spec.Plan{}, fmt.Errorf("%w: plan %q not found", ErrInvalidScenario, s.PlanRef)
}

// NewTable creates the scenario's table and loads its initial rows.
func (s *Scenario) NewTable() (*memory.Table, error) {
	cols := make([]memory.Column, len(s.Columns))
	for i, c := range s.Columns {
		k, err := value.ParseKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s: %v", ErrInvalidScenario, c.Name, err)
		}
		cols[i] = memory.Column{Name: c.Name, Kind: k}
	}
	tbl, err := memory.NewTable(cols...)
	if err != nil {
		return nil, err
	}
	for _, r := range s.Rows {
		if err := tbl.Append(storage.RowKey(r.Key), r.Values); err != nil {
			return nil, fmt.Errorf("initial row %d: %w", r.Key, err)
		}
	}
	return tbl, nil
}

// stage records the cycle's mutations on tbl.
func (c CycleDef) stage(tbl *memory.Table) error {
	if len(c.Remove) > 0 {
		keys := make([]storage.RowKey, len(c.Remove))
		for i, k := range c.Remove {
			keys[i] = storage.RowKey(k)
		}
		if err := tbl.Remove(keys...); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	}
	if len(c.Shift) > 0 {
		shifts := make([]storage.Shift, len(c.Shift))
		for i, sh := range c.Shift {
			shifts[i] = storage.Shift{Start: storage.RowKey(sh.Start), End: storage.RowKey(sh.End), Delta: sh.Delta}
		}
		if err := tbl.Shift(shifts...); err != nil {
			return fmt.Errorf("shift: %w", err)
		}
	}
	for _, r := range c.Modify {
		if err := tbl.Modify(storage.RowKey(r.Key), r.Values); err != nil {
			return fmt.Errorf("modify row %d: %w", r.Key, err)
		}
	}
	for _, r := range c.Add {
		if err := tbl.Append(storage.RowKey(r.Key), r.Values); err != nil {
			return fmt.Errorf("add row %d: %w", r.Key, err)
		}
	}
	return nil
}

// sealKeys encodes the cycle's seal tuples against the group-by columns.
func (c CycleDef) sealKeys(src storage.Source, groupBy []string) ([]value.GroupKey, error) {
	out := make([]value.GroupKey, 0, len(c.Seal))
	for _, tuple := range c.Seal {
		if len(tuple) != len(groupBy) {
			return nil, fmt.Errorf("%w: seal tuple %v does not match group-by %v", ErrInvalidScenario, tuple, groupBy)
		}
		vals := make([]value.Value, len(tuple))
		for i, raw := range tuple {
			kind, _ := src.Kind(groupBy[i])
			v, err := value.FromAny(kind, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: seal %v: %v", ErrInvalidScenario, tuple, err)
			}
			vals[i] = v
		}
		out = append(out, value.MakeGroupKey(vals...))
	}
	return out, nil
}
