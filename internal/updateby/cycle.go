package updateby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aevon-lab/updateby/internal/core/accumulator"
	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/grouping"
	"github.com/aevon-lab/updateby/internal/core/partition"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// ErrAlreadyBootstrapped is returned by Bootstrap on a handle that holds rows.
var ErrAlreadyBootstrapped = errors.New("handle already bootstrapped")

// cycle is the staged state of one update. Nothing it holds is visible to
// the handle until commit.
type cycle struct {
	h       *Handle
	txn     *grouping.Txn
	results *resultStore
	fresh   storage.RowSet // rows whose every output is reported
	works   map[grouping.Slot]*work
	seal    map[value.GroupKey]struct{}
}

func (h *Handle) begin() *cycle {
	return &cycle{
		h:       h,
		txn:     h.index.Begin(),
		results: h.results.Clone(),
		works:   make(map[grouping.Slot]*work),
		seal:    make(map[value.GroupKey]struct{}),
	}
}

func (c *cycle) work(s grouping.Slot) *work {
	if w, ok := c.works[s]; ok {
		return w
	}
	w := &work{slot: s, stamps: make([][]int64, len(c.h.tsCols))}
	c.works[s] = w
	return w
}

// Bootstrap computes every output for keys, the table's current rows. With
// an empty set it enumerates the source when it implements storage.Lister.
// Every output cell is reported as changed.
func (h *Handle) Bootstrap(ctx context.Context, keys storage.RowSet) (*CycleResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.index.Rows() > 0 {
		return nil, fmt.Errorf("%w: handle %s holds %d rows", ErrAlreadyBootstrapped, h.id, h.index.Rows())
	}
	if keys.IsEmpty() {
		if l, ok := h.src.(storage.Lister); ok {
			keys = l.RowKeys()
		}
	}
	if keys.IsEmpty() {
		return &CycleResult{}, nil
	}
	return h.run(ctx, "bootstrap", func(c *cycle) error {
		return c.stage(storage.Delta{Added: keys})
	})
}

// ApplyCycle applies one cycle's row delta and reports the outputs it
// changed. An empty delta changes nothing. On error, including context
// cancellation, the handle is left as it was before the call.
func (h *Handle) ApplyCycle(ctx context.Context, d storage.Delta) (*CycleResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d.IsEmpty() {
		return &CycleResult{}, nil
	}
	return h.run(ctx, "cycle", func(c *cycle) error { return c.stage(d) })
}

// Seal declares groups closed: no row will ever follow their last row, so
// tick windows held back by the pending forward policy resolve. With no
// keys every live group is sealed. Sealing is a no-op under ForwardPartial
// apart from being remembered.
func (h *Handle) Seal(ctx context.Context, keys ...value.GroupKey) (*CycleResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.run(ctx, "seal", func(c *cycle) error {
		slots := h.index.Slots()
		if len(keys) > 0 {
			slots = make([]grouping.Slot, 0, len(keys))
			for _, gk := range keys {
				s, ok := h.index.Lookup(gk)
				if !ok {
					return fmt.Errorf("%w: seal of unknown group %q", coreerr.ErrMissingGroup, gk)
				}
				slots = append(slots, s)
			}
		}
		for _, s := range slots {
			g, err := c.txn.Group(s)
			if err != nil {
				return err
			}
			if _, done := h.sealed[g.Key()]; done {
				continue
			}
			c.seal[g.Key()] = struct{}{}
			if last, ok := g.Last(); ok {
				c.work(s).anchor(last)
			}
		}
		return nil
	})
}

// run executes one cycle: stage, then plan and recompute every touched
// group between barriers, then collect and commit.
func (h *Handle) run(ctx context.Context, label string, stage func(*cycle) error) (*CycleResult, error) {
	start := time.Now()
	id := h.id.String()

	res, err := h.runCycle(ctx, stage)
	if err != nil {
		cycleFailures.WithLabelValues(id).Inc()
		slog.Error("[Coordinator] Cycle rolled back",
			"handle", h.id,
			"kind", label,
			"error_kind", coreerr.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	elapsed := time.Since(start)
	cyclesTotal.WithLabelValues(id).Inc()
	cycleDuration.WithLabelValues(id).Observe(elapsed.Seconds())
	changedOutputs.WithLabelValues(id).Add(float64(len(res.Changes)))
	for _, e := range res.Errors {
		rowErrors.WithLabelValues(id, string(e.Kind)).Inc()
	}
	liveGroups.WithLabelValues(id).Set(float64(h.index.Groups()))

	level := slog.LevelDebug
	if label == "bootstrap" {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "[Coordinator] Cycle committed",
		"handle", h.id,
		"kind", label,
		"cycle", h.cycles,
		"changes", len(res.Changes),
		"row_errors", len(res.Errors),
		"groups", h.index.Groups(),
		"duration", elapsed,
	)
	return res, nil
}

func (h *Handle) runCycle(ctx context.Context, stage func(*cycle) error) (*CycleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := h.begin()
	if err := stage(c); err != nil {
		return nil, err
	}

	works, err := c.prepare()
	if err != nil {
		return nil, err
	}

	// barrier: every zone is known before any output is rewritten
	if err := h.parallel(ctx, works, func(w *work) error {
		c.plan(w)
		return nil
	}); err != nil {
		return nil, err
	}

	// barrier: no result is collected before every group has finished
	if err := h.parallel(ctx, works, c.recompute); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := c.collect(works)
	c.commit()
	return res, nil
}

// stage applies d to the grouping transaction and the staged result store
// and records the anchors and timestamps of every touched group.
func (c *cycle) stage(d storage.Delta) error {
	h := c.h
	ss, err := storage.NormalizeShifts(d.Shifts)
	if err != nil {
		return err
	}

	// Removals are in the previous key space.
	removed := make(map[grouping.Slot][]storage.RowKey)
	for _, k := range d.Removed.Keys() {
		slot, times, err := c.txn.Remove(k)
		if err != nil {
			return err
		}
		c.results.Delete(resultRow{key: k})
		c.work(slot).stamp(times)
		removed[slot] = append(removed[slot], k)
	}
	type neighbour struct {
		slot grouping.Slot
		key  storage.RowKey
	}
	var neighbours []neighbour
	for slot, ks := range removed {
		g, err := c.txn.Group(slot)
		if err != nil {
			return err
		}
		for _, k := range ks {
			if p, ok := g.Prev(k, 1); ok {
				neighbours = append(neighbours, neighbour{slot, p})
			}
			if n, ok := g.Next(k, 1); ok {
				neighbours = append(neighbours, neighbour{slot, n})
			}
		}
	}

	if err := c.txn.Shift(ss); err != nil {
		return err
	}
	c.shiftResults(ss)
	for _, n := range neighbours {
		c.work(n.slot).anchor(ss.Apply(n.key))
	}

	if mods := d.Modified.Keys(); len(mods) > 0 {
		gks := h.src.GroupKeys(h.groupBy, mods)
		for i, k := range mods {
			if err := c.modify(k, gks[i]); err != nil {
				return err
			}
		}
	}

	if adds := d.Added.Keys(); len(adds) > 0 {
		gks := h.src.GroupKeys(h.groupBy, adds)
		for i, k := range adds {
			times := h.readTimes(k)
			slot, err := c.txn.Insert(k, gks[i], times)
			if err != nil {
				return err
			}
			w := c.work(slot)
			w.anchor(k)
			w.stamp(times)
			c.results.ReplaceOrInsert(h.emptyRow(k))
		}
		c.fresh = d.Added
	}
	return nil
}

// modify re-reads a live row's group and timestamps. A row whose group
// changed is removed from the old group and inserted into the new one.
func (c *cycle) modify(k storage.RowKey, gk value.GroupKey) error {
	slot, ok := c.txn.SlotOf(k)
	if !ok {
		return fmt.Errorf("%w: modified row %d is not placed", coreerr.ErrMissingGroup, k)
	}
	g, err := c.txn.Group(slot)
	if err != nil {
		return err
	}
	times := c.h.readTimes(k)

	if g.Key() == gk {
		old, err := c.txn.UpdateTimes(k, times)
		if err != nil {
			return err
		}
		w := c.work(slot)
		w.anchor(k)
		w.stamp(old)
		w.stamp(times)
		return nil
	}

	from, old, err := c.txn.Remove(k)
	if err != nil {
		return err
	}
	prev := c.work(from)
	prev.stamp(old)
	if g, err = c.txn.Group(from); err != nil {
		return err
	}
	if p, ok := g.Prev(k, 1); ok {
		prev.anchor(p)
	}
	if n, ok := g.Next(k, 1); ok {
		prev.anchor(n)
	}

	to, err := c.txn.Insert(k, gk, times)
	if err != nil {
		return err
	}
	next := c.work(to)
	next.anchor(k)
	next.stamp(times)
	return nil
}

// shiftResults relabels staged result rows. All moved rows are taken out
// before any is reinserted so overlapping source and target ranges never
// collide.
func (c *cycle) shiftResults(ss storage.Shifts) {
	if len(ss) == 0 {
		return
	}
	var moved []resultRow
	for _, s := range ss {
		c.results.AscendGreaterOrEqual(resultRow{key: s.Start}, func(r resultRow) bool {
			if r.key > s.End {
				return false
			}
			moved = append(moved, r)
			return true
		})
	}
	for _, r := range moved {
		c.results.Delete(r)
	}
	for _, r := range moved {
		r.key = ss.Apply(r.key)
		c.results.ReplaceOrInsert(r)
	}
}

func (h *Handle) readTimes(k storage.RowKey) grouping.Times {
	if len(h.tsCols) == 0 {
		return nil
	}
	out := make(grouping.Times, len(h.tsCols))
	for i, col := range h.tsCols {
		out[i].TS, out[i].Valid = h.src.Timestamp(col, k)
	}
	return out
}

func (h *Handle) emptyRow(k storage.RowKey) resultRow {
	r := resultRow{key: k, vals: make([]value.Value, len(h.cols))}
	for i, c := range h.cols {
		r.vals[i] = value.Null(c.out)
	}
	if h.nCkpt > 0 {
		r.ckpts = make([]accumulator.State, h.nCkpt)
	}
	return r
}

// prepare resolves the group of every touched slot and hands it its
// accumulator arena entry. Groups emptied by the cycle need no work.
func (c *cycle) prepare() ([]*work, error) {
	h := c.h
	out := make([]*work, 0, len(c.works))
	for slot, w := range c.works {
		g, err := c.txn.Group(slot)
		if err != nil {
			return nil, err
		}
		if g.Len() == 0 {
			continue
		}
		w.g = g
		_, sealed := h.sealed[g.Key()]
		_, sealing := c.seal[g.Key()]
		w.sealed = sealed || sealing

		if int(slot) >= len(h.arena) {
			h.arena = append(h.arena, make([]*groupState, int(slot)+1-len(h.arena))...)
		}
		if h.arena[slot] == nil {
			st, err := h.newGroupState()
			if err != nil {
				return nil, err
			}
			h.arena[slot] = st
		}
		w.st = h.arena[slot]
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b *work) int { return int(a.slot) - int(b.slot) })
	return out, nil
}

// parallel runs fn for every work. Works are sharded by group key so one
// goroutine owns a group for the whole pass; small cycles run inline.
func (h *Handle) parallel(ctx context.Context, works []*work, fn func(*work) error) error {
	workers := h.opts.Workers
	if workers <= 1 || len(works) < max(h.opts.ParallelThreshold, 2) {
		for _, w := range works {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(w); err != nil {
				return err
			}
		}
		return nil
	}

	shards := make([][]*work, min(workers, len(works)))
	for _, w := range works {
		i := partition.For(w.g.Key(), len(shards))
		shards[i] = append(shards[i], w)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		eg.Go(func() error {
			for _, w := range shard {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(w); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// collect writes every rewritten row into the staged store and reports the
// cells whose value differs from the previous cycle.
func (c *cycle) collect(works []*work) *CycleResult {
	h := c.h
	changes := make([][]Change, len(h.cols))
	errs := make([][]RowError, len(h.cols))
	var cells int

	for _, w := range works {
		cells += w.cells
		for k, pr := range w.rows {
			old, _ := c.results.Get(resultRow{key: k})
			fresh := c.fresh.Contains(k)
			for i, v := range pr.row.vals {
				if !pr.written[i] {
					continue
				}
				if fresh || !old.vals[i].Equal(v) {
					changes[i] = append(changes[i], Change{Column: h.cols[i].name, Key: k, Value: v})
				}
				if v.IsError() {
					errs[i] = append(errs[i], RowError{Column: h.cols[i].name, Key: k, Kind: coreerr.KindOf(v.Err()), Err: v.Err()})
				}
			}
			c.results.ReplaceOrInsert(pr.row)
		}
	}
	recomputedRows.WithLabelValues(h.id.String()).Add(float64(cells))

	res := &CycleResult{}
	for i := range h.cols {
		slices.SortFunc(changes[i], func(a, b Change) int { return compareKeys(a.Key, b.Key) })
		slices.SortFunc(errs[i], func(a, b RowError) int { return compareKeys(a.Key, b.Key) })
		res.Changes = append(res.Changes, changes[i]...)
		res.Errors = append(res.Errors, errs[i]...)
	}
	return res
}

func compareKeys(a, b storage.RowKey) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// commit publishes the cycle: the grouping transaction, the result store
// and a new snapshot, swapped in with one atomic store.
func (c *cycle) commit() {
	h := c.h
	torn := make(map[grouping.Slot]value.GroupKey)
	for slot := range c.works {
		if g, err := c.txn.Group(slot); err == nil && g.Len() == 0 {
			torn[slot] = g.Key()
		}
	}

	for _, slot := range c.txn.Commit() {
		if gk, ok := torn[slot]; ok {
			delete(h.sealed, gk)
		}
		if int(slot) < len(h.arena) {
			h.arena[slot] = nil
		}
	}
	for gk := range c.seal {
		h.sealed[gk] = struct{}{}
	}
	h.results = c.results
	h.cycles++
	h.snap.Store(newSnapshot(h.cycles, h.names, h.byName, h.results.Clone()))
}
