// Package accumulator holds the per-group incremental aggregation state of
// update-by operations.
//
// Rolling accumulators buffer the samples inside a window and are driven by
// the coordinator with AddRight as the window's leading edge advances and
// EvictLeft as its trailing edge passes a sample. Running accumulators
// (cumulative, exponential, delta, fill) keep O(1) state and are advanced
// one row at a time; their State can be checkpointed per row so a later
// cycle resumes from the row before the first change.
package accumulator

import (
	"fmt"

	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// Sample is one row's contribution to an accumulator.
type Sample struct {
	Key    storage.RowKey
	Val    value.Value
	Weight value.Value // rolling wavg only
	TS     int64
	HasTS  bool
}

// Phase is the lifecycle state of a rolling accumulator.
type Phase uint8

const (
	PhaseEmpty Phase = iota
	PhaseWarming
	PhaseFull
	PhasePoisoned
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseWarming:
		return "warming"
	case PhaseFull:
		return "full"
	case PhasePoisoned:
		return "poisoned"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Rolling is a bounded-window accumulator.
type Rolling interface {
	// AddRight admits a sample at the leading edge. The control policy is
	// applied here, before the value reaches the aggregate.
	AddRight(s Sample)

	// EvictLeft removes the oldest buffered sample, which must have key k.
	EvictLeft(k storage.RowKey) error

	// Result is the aggregate over the current window.
	Result() value.Value

	Len() int
	Reset()

	// Buffered returns the buffered samples oldest first. Replaying them into
	// a fresh accumulator yields the same Result.
	Buffered() []Sample

	Phase() Phase
}

// Running is an accumulator with unbounded history.
type Running interface {
	// Advance folds in the next row of the group and returns its output.
	Advance(s Sample) value.Value

	// State is a checkpoint taken after the last Advance.
	State() State

	// Restore rewinds to a checkpoint produced by the same kind of accumulator.
	Restore(st State)

	Reset()
}
