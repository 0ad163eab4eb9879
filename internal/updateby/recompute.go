package updateby

import (
	"fmt"
	"slices"

	"github.com/aevon-lab/updateby/internal/core/accumulator"
	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/grouping"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// groupState is the accumulator arena entry of one group slot: one
// accumulator per output column. Accumulators are scratch space reseeded at
// the start of every zone; the durable state is the result store.
type groupState struct {
	rolling []accumulator.Rolling
	running []accumulator.Running
}

func (h *Handle) newGroupState() (*groupState, error) {
	st := &groupState{
		rolling: make([]accumulator.Rolling, len(h.cols)),
		running: make([]accumulator.Running, len(h.cols)),
	}
	for i := range h.cols {
		c := &h.cols[i]
		var err error
		if c.running() {
			st.running[i], err = accumulator.NewRunning(c.spec, c.inKind)
		} else {
			st.rolling[i], err = accumulator.NewRolling(c.spec, c.inKind, h.formulas)
		}
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.name, err)
		}
	}
	return st, nil
}

// pendingRow is a row rewritten by a worker, with the cells it wrote.
type pendingRow struct {
	row     resultRow
	written []bool
}

// work is one touched group of a cycle. Between the barriers a work is
// owned by exactly one worker.
type work struct {
	slot    grouping.Slot
	g       *grouping.Group
	st      *groupState
	sealed  bool
	anchors []storage.RowKey
	stamps  [][]int64 // changed timestamps per timestamp column

	zones []zone // per lane
	rows  map[storage.RowKey]*pendingRow
	cells int
}

func (w *work) anchor(k storage.RowKey) { w.anchors = append(w.anchors, k) }

func (w *work) stamp(times grouping.Times) {
	for i, st := range times {
		if st.Valid {
			w.stamps[i] = append(w.stamps[i], st.TS)
		}
	}
}

// plan computes the influence zone of every lane.
func (c *cycle) plan(w *work) {
	slices.Sort(w.anchors)
	w.anchors = slices.Compact(w.anchors)
	w.zones = make([]zone, len(c.h.lanes))
	for i, ln := range c.h.lanes {
		if ln.time {
			stamps := w.stamps[ln.ts]
			slices.Sort(stamps)
			w.zones[i] = zone{rows: timeZone(w.g, w.anchors, slices.Compact(stamps), ln)}
			continue
		}
		w.zones[i] = zone{intervals: keyZone(w.g, w.anchors, ln)}
	}
}

// recompute rewrites the outputs of every column over its lane's zone.
func (c *cycle) recompute(w *work) error {
	w.rows = make(map[storage.RowKey]*pendingRow)
	for i := range c.h.cols {
		col := &c.h.cols[i]
		z := w.zones[col.lane]
		if z.empty() {
			continue
		}
		var err error
		switch {
		case col.running():
			err = c.recomputeRunning(w, i, z.intervals)
		case col.spec.Scale().IsTime():
			err = c.recomputeTime(w, i, z.rows)
		default:
			err = c.recomputeTicks(w, i, z.intervals)
		}
		if err != nil {
			return fmt.Errorf("column %q group %d: %w", col.name, w.slot, err)
		}
	}
	return nil
}

// row returns the worker's private copy of row k.
func (c *cycle) row(w *work, k storage.RowKey) (*pendingRow, error) {
	if pr, ok := w.rows[k]; ok {
		return pr, nil
	}
	old, ok := c.results.Get(resultRow{key: k})
	if !ok {
		return nil, fmt.Errorf("%w: row %d has no result slot", coreerr.ErrMissingGroup, k)
	}
	pr := &pendingRow{row: old.copy(), written: make([]bool, len(c.h.cols))}
	w.rows[k] = pr
	return pr, nil
}

func (c *cycle) set(w *work, col int, k storage.RowKey, v value.Value) (*pendingRow, error) {
	pr, err := c.row(w, k)
	if err != nil {
		return nil, err
	}
	pr.row.vals[col] = v
	pr.written[col] = true
	w.cells++
	return pr, nil
}

func (c *cycle) sample(w *work, col *column, k storage.RowKey) accumulator.Sample {
	s := accumulator.Sample{Key: k, Val: c.h.src.Value(col.in, k)}
	if weight := col.spec.WeightColumn(); weight != "" {
		s.Weight = c.h.src.Value(weight, k)
	}
	if col.ts >= 0 {
		if times, ok := w.g.Times(k); ok && col.ts < len(times) {
			s.TS, s.HasTS = times[col.ts].TS, times[col.ts].Valid
		}
	}
	return s
}

// recomputeRunning resumes each interval from the checkpoint of the row
// before it.
func (c *cycle) recomputeRunning(w *work, ci int, ivs []interval) error {
	col := &c.h.cols[ci]
	acc := w.st.running[ci]
	for _, iv := range ivs {
		acc.Reset()
		if p, ok := w.g.Prev(iv.lo, 1); ok {
			pr, err := c.row(w, p)
			if err != nil {
				return err
			}
			acc.Restore(pr.row.ckpts[col.ckpt])
		}
		for _, k := range w.g.Range(iv.lo, iv.hi) {
			out := acc.Advance(c.sample(w, col, k))
			pr, err := c.set(w, ci, k, out)
			if err != nil {
				return err
			}
			pr.row.ckpts[col.ckpt] = acc.State()
		}
	}
	return nil
}

// recomputeTicks slides a tick window across each interval. The window of
// rank i is ranks [i-rev+1, i+fwd]; only its edges move between rows.
func (c *cycle) recomputeTicks(w *work, ci int, ivs []interval) error {
	col := &c.h.cols[ci]
	acc := w.st.rolling[ci]
	sc := col.spec.Scale()
	rev, fwd := sc.RevTicks(), sc.FwdTicks()
	pending := c.h.opts.Forward == ForwardPending && fwd > 0 && !w.sealed

	for _, iv := range ivs {
		keys, start, end, _, atEnd := w.g.Expand(iv.lo, iv.hi, max(rev-1, 0), max(fwd, 0))
		lastIdx := int64(len(keys) - 1)
		acc.Reset()
		var wl, wr int64 // the window holds keys[wl:wr]
		for i := int64(start); i <= int64(end); i++ {
			lo := max(i-rev+1, 0)
			hi := min(i+fwd, lastIdx)
			if lo > wr {
				acc.Reset()
				wl, wr = lo, lo
			}
			for ; wl < lo; wl++ {
				if err := acc.EvictLeft(keys[wl]); err != nil {
					return err
				}
			}
			for ; wr <= hi; wr++ {
				acc.AddRight(c.sample(w, col, keys[wr]))
			}

			out := acc.Result()
			if pending && atEnd && i+fwd > lastIdx {
				out = value.Null(col.out)
			}
			if _, err := c.set(w, ci, keys[i], out); err != nil {
				return err
			}
		}
	}
	return nil
}

// recomputeTime sweeps the zone rows in timestamp order. Rows close enough
// in time share one sweep over the group's time index.
func (c *cycle) recomputeTime(w *work, ci int, rows []storage.RowKey) error {
	col := &c.h.cols[ci]
	acc := w.st.rolling[ci]
	sc := col.spec.Scale()
	rev, fwd := sc.RevTime().Nanoseconds(), sc.FwdTime().Nanoseconds()

	entries := make([]grouping.TimeEntry, 0, len(rows))
	for _, k := range rows {
		times, ok := w.g.Times(k)
		if !ok || !times[col.ts].Valid {
			if _, err := c.set(w, ci, k, value.Null(col.out)); err != nil {
				return err
			}
			continue
		}
		entries = append(entries, grouping.TimeEntry{TS: times[col.ts].TS, Key: k})
	}
	slices.SortFunc(entries, func(a, b grouping.TimeEntry) int {
		switch {
		case a.TS != b.TS:
			if a.TS < b.TS {
				return -1
			}
			return 1
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})

	for i := 0; i < len(entries); {
		j := i
		for j+1 < len(entries) && satSub(entries[j+1].TS, rev) <= satAdd(entries[j].TS, fwd) {
			j++
		}
		span := w.g.TimeRange(col.ts, satSub(entries[i].TS, rev), satAdd(entries[j].TS, fwd))

		acc.Reset()
		wl, wr := 0, 0 // the window holds span[wl:wr]
		for _, e := range entries[i : j+1] {
			lo, hi := satSub(e.TS, rev), satAdd(e.TS, fwd)
			for ; wl < wr && span[wl].TS < lo; wl++ {
				if err := acc.EvictLeft(span[wl].Key); err != nil {
					return err
				}
			}
			if wl == wr {
				for wr < len(span) && span[wr].TS < lo {
					wr++
				}
				wl = wr
			}
			for ; wr < len(span) && span[wr].TS <= hi; wr++ {
				acc.AddRight(c.sample(w, col, span[wr].Key))
			}
			if _, err := c.set(w, ci, e.Key, acc.Result()); err != nil {
				return err
			}
		}
		i = j + 1
	}
	return nil
}
