// Package updateby maintains windowed and cumulative output columns over a
// changing table.
//
// A Handle is built once from a set of operations and a grouping. Bootstrap
// computes every output from scratch; each later ApplyCycle takes one cycle's
// row delta, recomputes only the rows inside each group's influence zone and
// reports the output cells that changed. A cycle is atomic: readers see the
// previous Snapshot until it commits, and an error or cancellation leaves the
// handle exactly as it was.
package updateby

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/aevon-lab/updateby/internal/core/accumulator"
	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/grouping"
	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

// column is one output column and everything needed to recompute it.
type column struct {
	name   string
	spec   spec.Spec
	in     string
	inKind value.Kind
	out    value.Kind
	lane   int
	ts     int // timestamp column index in the grouping index, -1 if none
	ckpt   int // checkpoint index in resultRow.ckpts, -1 for rolling columns
}

func (c *column) running() bool { return c.spec.Op().Running() }

// lane is a distinct influence reach. A key lane marks rows [Prev(k, before),
// Next(k, after)] around a changed row k; a time lane marks the rows whose
// timestamp lies in [ts-before, ts+after] around a changed timestamp.
type lane struct {
	time    bool
	ts      int
	before  int64
	after   int64
	pending bool // some column may hold back its forward rows
}

type laneKey struct {
	time          bool
	ts            int
	before, after int64
}

// Handle owns the derived state of one set of operations over one source.
type Handle struct {
	id       uuid.UUID
	src      storage.Source
	groupBy  []string
	specs    []spec.Spec
	cols     []column
	byName   map[string]int
	names    []string
	lanes    []lane
	tsCols   []string
	nCkpt    int
	opts     Options
	formulas *accumulator.Formulas

	mu      sync.Mutex // serializes cycles
	index   *grouping.Index
	results *resultStore
	arena   []*groupState // accumulators by group slot
	sealed  map[value.GroupKey]struct{}
	cycles  uint64
	snap    atomic.Pointer[Snapshot]
}

// Build validates specs against the source schema and returns a handle with
// no rows. Call Bootstrap to compute outputs for the rows already present.
func Build(ctx context.Context, src storage.Source, specs []spec.Spec, groupBy []string, opts ...Option) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o = o.normalized()

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no operations", spec.ErrInvalidSpec)
	}

	formulas := o.Formulas
	if formulas == nil {
		var err error
		if formulas, err = accumulator.NewFormulas(o.FormulaCacheSize); err != nil {
			return nil, fmt.Errorf("formula cache: %w", err)
		}
	}

	h := &Handle{
		id:       uuid.New(),
		src:      src,
		groupBy:  append([]string(nil), groupBy...),
		specs:    append([]spec.Spec(nil), specs...),
		byName:   make(map[string]int),
		opts:     o,
		formulas: formulas,
		sealed:   make(map[value.GroupKey]struct{}),
	}

	var errs error
	for _, c := range groupBy {
		if _, ok := src.Kind(c); !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: group-by column %q does not exist", coreerr.ErrUnsupportedType, c))
		}
	}
	for i, s := range specs {
		if err := h.addSpec(s); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("operation %d (%s): %w", i, s.Op(), err))
		}
	}
	if errs != nil {
		return nil, errs
	}

	h.index = grouping.New(o.BTreeDegree, h.tsCols...)
	h.results = newResultStore(o.BTreeDegree)
	h.snap.Store(newSnapshot(0, h.names, h.byName, h.results.Clone()))

	slog.Info("[Coordinator] Handle built",
		"handle", h.id,
		"columns", len(h.cols),
		"lanes", len(h.lanes),
		"group_by", h.groupBy,
		"workers", o.Workers,
		"forward", o.Forward.String(),
	)
	return h, nil
}

// BuildPlan builds a handle for a loaded plan.
func BuildPlan(ctx context.Context, src storage.Source, p spec.Plan, opts ...Option) (*Handle, error) {
	specs, err := p.Specs()
	if err != nil {
		return nil, err
	}
	h, err := Build(ctx, src, specs, p.GroupBy, opts...)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", p.Name, err)
	}
	return h, nil
}

func (h *Handle) addSpec(s spec.Spec) error {
	if err := s.CheckTypes(h.src.Kind); err != nil {
		return err
	}

	ts := -1
	if name := s.Scale().TimestampColumn(); name != "" {
		ts = h.tsIndex(name)
	}
	ln := h.laneFor(s, ts)

	for _, p := range s.Pairs() {
		if _, dup := h.byName[p.Out]; dup {
			return fmt.Errorf("%w: duplicate output column %q", spec.ErrInvalidSpec, p.Out)
		}
		in, _ := h.src.Kind(p.In)
		c := column{
			name:   p.Out,
			spec:   s,
			in:     p.In,
			inKind: in,
			out:    s.OutputKind(in),
			lane:   ln,
			ts:     ts,
			ckpt:   -1,
		}
		if c.running() {
			c.ckpt = h.nCkpt
			h.nCkpt++
		} else if _, err := accumulator.NewRolling(s, in, h.formulas); err != nil {
			return err
		}
		h.byName[p.Out] = len(h.cols)
		h.names = append(h.names, p.Out)
		h.cols = append(h.cols, c)
	}
	return nil
}

func (h *Handle) tsIndex(name string) int {
	for i, c := range h.tsCols {
		if c == name {
			return i
		}
	}
	h.tsCols = append(h.tsCols, name)
	return len(h.tsCols) - 1
}

// laneFor returns the lane of s, creating it on first use.
func (h *Handle) laneFor(s spec.Spec, ts int) int {
	sc := s.Scale()
	var ln lane
	switch {
	case s.Op() == spec.OpDelta:
		ln = lane{ts: -1, after: 1}
	case s.Op().Running():
		ln = lane{ts: -1, after: window.Unbounded}
	case sc.IsTime():
		ln = lane{
			time:   true,
			ts:     ts,
			before: max(sc.FwdTime().Nanoseconds(), 0),
			after:  max(sc.RevTime().Nanoseconds(), 0),
		}
	default:
		ln = lane{
			ts:      -1,
			before:  max(sc.FwdTicks(), 0),
			after:   max(sc.RevTicks()-1, 0),
			pending: sc.FwdTicks() > 0,
		}
	}

	key := laneKey{time: ln.time, ts: ln.ts, before: ln.before, after: ln.after}
	for i, l := range h.lanes {
		if (laneKey{time: l.time, ts: l.ts, before: l.before, after: l.after}) == key {
			return i
		}
	}
	h.lanes = append(h.lanes, ln)
	return len(h.lanes) - 1
}

// ID identifies the handle in logs and metrics.
func (h *Handle) ID() uuid.UUID { return h.id }

// Columns returns the output column names in declaration order.
func (h *Handle) Columns() []string { return append([]string(nil), h.names...) }

// Specs returns the operations the handle computes.
func (h *Handle) Specs() []spec.Spec { return append([]spec.Spec(nil), h.specs...) }

// GroupBy returns the group-by columns.
func (h *Handle) GroupBy() []string { return append([]string(nil), h.groupBy...) }

// Snapshot returns the outputs as of the last committed cycle.
func (h *Handle) Snapshot() *Snapshot { return h.snap.Load() }

// Groups returns the number of live groups.
func (h *Handle) Groups() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index.Groups()
}

// Close releases the handle's metric series. The last snapshot stays
// readable; the handle must not run further cycles.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	deleteHandleMetrics(h.id.String())
}

// Rows returns the number of rows the handle holds outputs for.
func (h *Handle) Rows() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index.Rows()
}
