package storage

import (
	"fmt"
	"slices"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
)

// Shift renumbers every live key in [Start, End] to key+Delta.
type Shift struct {
	Start RowKey `yaml:"start"`
	End   RowKey `yaml:"end"`
	Delta int64  `yaml:"delta"`
}

// Covers reports whether k lies in the shifted range.
func (s Shift) Covers(k RowKey) bool { return k >= s.Start && k <= s.End }

// Apply returns k relabelled by s, or k itself when s does not cover it.
func (s Shift) Apply(k RowKey) RowKey {
	if s.Covers(k) {
		return k + RowKey(s.Delta)
	}
	return k
}

// Delta is one cycle's change set.
//
// Removed is expressed in the previous cycle's key space; Added and Modified
// are in the new key space. Shifts translate between the two and are applied
// after removals.
type Delta struct {
	Added    RowSet
	Removed  RowSet
	Modified RowSet
	Shifts   []Shift
}

// IsEmpty reports whether the cycle changes nothing.
func (d Delta) IsEmpty() bool {
	if !d.Added.IsEmpty() || !d.Removed.IsEmpty() || !d.Modified.IsEmpty() {
		return false
	}
	for _, s := range d.Shifts {
		if s.Delta != 0 {
			return false
		}
	}
	return true
}

// Shifts is a validated, sorted list of non-overlapping shifts.
type Shifts []Shift

// NormalizeShifts sorts shifts by start and checks that their ranges are
// well formed and disjoint. Zero shifts are dropped. Whether a shift collides
// with unshifted keys depends on the live key set and is checked by the
// grouping index.
func NormalizeShifts(in []Shift) (Shifts, error) {
	out := make(Shifts, 0, len(in))
	for _, s := range in {
		if s.End < s.Start {
			return nil, fmt.Errorf("%w: range [%d, %d] is inverted", coreerr.ErrInvalidShift, s.Start, s.End)
		}
		if s.Delta != 0 {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Shift) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	for i := 1; i < len(out); i++ {
		if out[i].Start <= out[i-1].End {
			return nil, fmt.Errorf("%w: ranges [%d, %d] and [%d, %d] overlap",
				coreerr.ErrInvalidShift, out[i-1].Start, out[i-1].End, out[i].Start, out[i].End)
		}
	}
	return out, nil
}

// Apply relabels an old-space key into the new key space.
func (ss Shifts) Apply(k RowKey) RowKey {
	i, found := slices.BinarySearchFunc(ss, k, func(s Shift, k RowKey) int {
		switch {
		case s.End < k:
			return -1
		case s.Start > k:
			return 1
		}
		return 0
	})
	if !found {
		return k
	}
	return ss[i].Apply(k)
}
