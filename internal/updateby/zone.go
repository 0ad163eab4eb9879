package updateby

import (
	"math"
	"slices"

	"github.com/aevon-lab/updateby/internal/core/grouping"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/window"
)

// interval is a closed range of row keys of one group.
type interval struct {
	lo, hi storage.RowKey
}

// zone is the part of a group one lane recomputes this cycle. Key lanes
// fill intervals; time lanes fill rows.
type zone struct {
	intervals []interval
	rows      []storage.RowKey
}

func (z zone) empty() bool { return len(z.intervals) == 0 && len(z.rows) == 0 }

// keyZone marks [Prev(a, before), Next(a, after)] around every anchor a and
// merges the result. Anchors must be sorted.
func keyZone(g *grouping.Group, anchors []storage.RowKey, ln lane) []interval {
	if len(anchors) == 0 || g.Len() == 0 {
		return nil
	}
	last, _ := g.Last()

	// Unbounded lanes reach the end of the group from the first anchor.
	if ln.after == window.Unbounded {
		a := anchors[0]
		lo, ok := g.Prev(a, ln.before)
		switch {
		case ok:
		case g.Contains(a):
			lo = a
		default:
			if lo, ok = g.Next(a, 1); !ok {
				return nil
			}
		}
		return []interval{{lo: lo, hi: last}}
	}

	if saturated(len(anchors), ln.before, ln.after, g.Len()) {
		first, _ := g.First()
		return []interval{{lo: first, hi: last}}
	}

	out := make([]interval, 0, len(anchors))
	for _, a := range anchors {
		lo, hi, ok := g.Around(a, ln.before, ln.after)
		if !ok {
			continue
		}
		n := len(out)
		if n > 0 {
			cur := &out[n-1]
			if lo <= cur.hi {
				cur.hi = max(cur.hi, hi)
				continue
			}
			if next, ok := g.Next(cur.hi, 1); ok && next == lo {
				cur.hi = hi
				continue
			}
		}
		out = append(out, interval{lo: lo, hi: hi})
	}
	return out
}

// saturated reports whether marking n anchors is likely to cover the whole
// group anyway, in which case walking the neighbourhood of each is wasted.
func saturated(n int, before, after int64, size int) bool {
	span := float64(before) + float64(after) + 1
	return float64(n)*span >= float64(size)
}

// timeZone marks every row whose timestamp lies in [t-before, t+after] for a
// changed timestamp t, plus the anchors themselves.
func timeZone(g *grouping.Group, anchors []storage.RowKey, stamps []int64, ln lane) []storage.RowKey {
	if g.Len() == 0 {
		return nil
	}
	if 2*len(stamps) >= g.Len() {
		return g.Rows()
	}

	out := make([]storage.RowKey, 0, len(anchors)+len(stamps))
	for _, a := range anchors {
		if g.Contains(a) {
			out = append(out, a)
		}
	}
	for _, t := range stamps {
		for _, e := range g.TimeRange(ln.ts, satSub(t, ln.before), satAdd(t, ln.after)) {
			out = append(out, e.Key)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func satAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func satSub(a, b int64) int64 {
	if b == math.MinInt64 {
		return satAdd(satAdd(a, math.MaxInt64), 1)
	}
	return satAdd(a, -b)
}
