package accumulator

import (
	"errors"
	"fmt"

	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/core/window"
)

// ErrEvictOrder is returned when a sample is evicted out of window order.
var ErrEvictOrder = errors.New("evict out of window order")

type entry struct {
	Sample
	seq     uint64
	counted bool // folded into the kernel
	poison  bool
}

// kernel is the aggregate-specific part of a rolling accumulator. add and
// remove see only counted entries.
type kernel interface {
	add(e *entry)
	remove(e *entry)
	clear()
	result(r *rolling) value.Value
}

type rolling struct {
	control  window.Control
	weighted bool
	capacity int64 // tick windows only
	out      value.Kind
	kernel   kernel

	buf     ring[entry]
	seq     uint64
	counted int
	poison  int
}

func newRolling(c window.Control, capacity int64, out value.Kind, k kernel) *rolling {
	return &rolling{control: c, capacity: capacity, out: out, kernel: k}
}

func (r *rolling) screen(s Sample) window.Verdict {
	v := r.control.Screen(s.Val)
	if v == window.Admit && r.weighted {
		return r.control.Screen(s.Weight)
	}
	return v
}

func (r *rolling) AddRight(s Sample) {
	e := entry{Sample: s, seq: r.seq}
	r.seq++
	switch r.screen(s) {
	case window.Admit:
		e.counted = true
		r.counted++
		r.kernel.add(&e)
	case window.Reset:
		r.restart()
	case window.Poison:
		e.poison = true
		r.poison++
	}
	r.buf.PushBack(e)
}

// restart drops every buffered entry from the aggregate, including poison,
// as if the window began after them.
func (r *rolling) restart() {
	for i := 0; i < r.buf.Len(); i++ {
		e := r.buf.At(i)
		e.counted, e.poison = false, false
	}
	r.kernel.clear()
	r.counted, r.poison = 0, 0
}

func (r *rolling) EvictLeft(k storage.RowKey) error {
	if r.buf.Len() == 0 {
		return fmt.Errorf("%w: row %d evicted from an empty window", ErrEvictOrder, k)
	}
	if front := r.buf.Front(); front.Key != k {
		return fmt.Errorf("%w: row %d evicted but the oldest row is %d", ErrEvictOrder, k, front.Key)
	}
	e := r.buf.PopFront()
	switch {
	case e.counted:
		r.counted--
		if r.counted == 0 {
			r.kernel.clear()
		} else {
			r.kernel.remove(&e)
		}
	case e.poison:
		r.poison--
	}
	return nil
}

func (r *rolling) Result() value.Value {
	if r.poison > 0 {
		return value.Null(r.out)
	}
	return r.kernel.result(r)
}

func (r *rolling) Len() int { return r.buf.Len() }

func (r *rolling) Reset() {
	r.buf.Clear()
	r.kernel.clear()
	r.counted, r.poison = 0, 0
}

func (r *rolling) Buffered() []Sample {
	out := make([]Sample, r.buf.Len())
	for i := range out {
		out[i] = r.buf.At(i).Sample
	}
	return out
}

func (r *rolling) Phase() Phase {
	switch {
	case r.buf.Len() == 0:
		return PhaseEmpty
	case r.poison > 0:
		return PhasePoisoned
	case r.capacity > 0 && int64(r.buf.Len()) < r.capacity:
		return PhaseWarming
	}
	return PhaseFull
}

// each calls fn for every counted entry, oldest first.
func (r *rolling) each(fn func(e *entry)) {
	for i := 0; i < r.buf.Len(); i++ {
		if e := r.buf.At(i); e.counted {
			fn(e)
		}
	}
}
