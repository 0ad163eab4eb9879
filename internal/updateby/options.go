package updateby

import (
	"fmt"

	"github.com/aevon-lab/updateby/internal/core/accumulator"
	corecfg "github.com/aevon-lab/updateby/internal/core/config"
	"github.com/aevon-lab/updateby/internal/core/grouping"
)

const (
	defaultWorkers           = 4
	defaultParallelThreshold = 8
)

// ForwardPolicy decides what a tick window reports while its forward extent
// runs past the last row of its group.
type ForwardPolicy uint8

const (
	// ForwardPartial clips the window at the group's last row.
	ForwardPartial ForwardPolicy = iota
	// ForwardPending reports null until the forward rows exist or the group
	// is sealed.
	ForwardPending
)

func (p ForwardPolicy) String() string {
	if p == ForwardPending {
		return corecfg.ForwardPending
	}
	return corecfg.ForwardPartial
}

// ParseForwardPolicy converts a config value ("partial" or "pending").
func ParseForwardPolicy(s string) (ForwardPolicy, error) {
	switch s {
	case "", corecfg.ForwardPartial:
		return ForwardPartial, nil
	case corecfg.ForwardPending:
		return ForwardPending, nil
	}
	return ForwardPartial, fmt.Errorf("unknown forward policy %q", s)
}

// Options controls how a Handle schedules and stores its work.
type Options struct {
	Workers           int
	ParallelThreshold int // touched groups below this are recomputed inline
	BTreeDegree       int
	Forward           ForwardPolicy
	FormulaCacheSize  int

	// Formulas is shared between handles when set; otherwise each handle
	// builds its own cache.
	Formulas *accumulator.Formulas
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Workers:           defaultWorkers,
		ParallelThreshold: defaultParallelThreshold,
		BTreeDegree:       grouping.DefaultDegree,
		Forward:           ForwardPartial,
		FormulaCacheSize:  accumulator.DefaultFormulaCacheSize,
	}
}

func (o Options) normalized() Options {
	n := o
	if n.Workers <= 0 {
		n.Workers = defaultWorkers
	}
	if n.ParallelThreshold < 0 {
		n.ParallelThreshold = 0
	}
	if n.BTreeDegree < 2 {
		n.BTreeDegree = grouping.DefaultDegree
	}
	if n.FormulaCacheSize <= 0 {
		n.FormulaCacheSize = accumulator.DefaultFormulaCacheSize
	}
	return n
}

// Option adjusts Options at Build time.
type Option func(*Options)

func WithWorkers(n int) Option           { return func(o *Options) { o.Workers = n } }
func WithParallelThreshold(n int) Option { return func(o *Options) { o.ParallelThreshold = n } }
func WithBTreeDegree(d int) Option       { return func(o *Options) { o.BTreeDegree = d } }
func WithForwardPolicy(p ForwardPolicy) Option {
	return func(o *Options) { o.Forward = p }
}

// WithFormulas shares a compiled formula cache.
func WithFormulas(f *accumulator.Formulas) Option { return func(o *Options) { o.Formulas = f } }

// WithEngineConfig applies the engine section of the loaded config.
// Config.Validate has already rejected unknown forward policies.
func WithEngineConfig(c corecfg.EngineConfig) Option {
	return func(o *Options) {
		o.Workers = c.Workers
		o.ParallelThreshold = c.ParallelThreshold
		o.BTreeDegree = c.BTreeDegree
		o.FormulaCacheSize = c.FormulaCacheSize
		if p, err := ParseForwardPolicy(c.ForwardIncomplete); err == nil {
			o.Forward = p
		}
	}
}
