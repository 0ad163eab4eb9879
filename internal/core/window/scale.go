package window

import (
	"fmt"
	"math"
	"strings"
	"time"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
)

// Mode is the kind of extent a Scale describes.
type Mode uint8

const (
	ModeTicks Mode = iota + 1
	ModeTime
	ModeCumulative
)

// Unbounded is the reverse tick extent of a cumulative window.
const Unbounded = math.MaxInt64

// Scale describes one window's extent. It is a pure value; construct it with
// Ticks, Time, Cumulative, DecayTicks, DecayTime or FromConfig.
//
// Tick windows cover ranks [k-rev+1, k+fwd] around the current rank k, so
// rev=1, fwd=0 is the current row only. Time windows cover the timestamps
// [ts-rev, ts+fwd] inclusive. Decay scales carry an exponential operator's
// half-life-like constant in the reverse extent.
type Scale struct {
	mode     Mode
	revTicks int64
	fwdTicks int64
	revTime  time.Duration
	fwdTime  time.Duration
	tsColumn string
	decay    bool
}

// Ticks returns a row-count window.
func Ticks(rev, fwd int64) (Scale, error) {
	if rev+fwd < 1 {
		return Scale{}, fmt.Errorf("%w: tick window (rev=%d, fwd=%d) contains no rows", coreerr.ErrInvalidWindow, rev, fwd)
	}
	return Scale{mode: ModeTicks, revTicks: rev, fwdTicks: fwd}, nil
}

// Time returns a timestamp window anchored to tsColumn.
func Time(tsColumn string, rev, fwd time.Duration) (Scale, error) {
	if strings.TrimSpace(tsColumn) == "" {
		return Scale{}, fmt.Errorf("%w: time window requires a timestamp column", coreerr.ErrInvalidWindow)
	}
	if rev+fwd < 0 {
		return Scale{}, fmt.Errorf("%w: time window (rev=%s, fwd=%s) is empty", coreerr.ErrInvalidWindow, rev, fwd)
	}
	return Scale{mode: ModeTime, revTime: rev, fwdTime: fwd, tsColumn: tsColumn}, nil
}

// Cumulative returns the window from the start of the group through the current row.
func Cumulative() Scale {
	return Scale{mode: ModeCumulative, revTicks: Unbounded}
}

// DecayTicks returns the decay scale of a tick-based exponential operator.
func DecayTicks(ticks int64) (Scale, error) {
	if ticks <= 0 {
		return Scale{}, fmt.Errorf("%w: decay ticks must be > 0, got %d", coreerr.ErrInvalidWindow, ticks)
	}
	return Scale{mode: ModeTicks, revTicks: ticks, decay: true}, nil
}

// DecayTime returns the decay scale of a time-based exponential operator.
func DecayTime(tsColumn string, tau time.Duration) (Scale, error) {
	if strings.TrimSpace(tsColumn) == "" {
		return Scale{}, fmt.Errorf("%w: time decay requires a timestamp column", coreerr.ErrInvalidWindow)
	}
	if tau <= 0 {
		return Scale{}, fmt.Errorf("%w: decay time must be > 0, got %s", coreerr.ErrInvalidWindow, tau)
	}
	return Scale{mode: ModeTime, revTime: tau, tsColumn: tsColumn, decay: true}, nil
}

// Must panics if err is non-nil. Intended for literals in tests and examples.
func Must(s Scale, err error) Scale {
	if err != nil {
		panic(err)
	}
	return s
}

func (s Scale) Mode() Mode              { return s.mode }
func (s Scale) IsZero() bool            { return s.mode == 0 }
func (s Scale) IsTicks() bool           { return s.mode == ModeTicks }
func (s Scale) IsTime() bool            { return s.mode == ModeTime }
func (s Scale) IsCumulative() bool      { return s.mode == ModeCumulative }
func (s Scale) IsDecay() bool           { return s.decay }
func (s Scale) RevTicks() int64         { return s.revTicks }
func (s Scale) FwdTicks() int64         { return s.fwdTicks }
func (s Scale) RevTime() time.Duration  { return s.revTime }
func (s Scale) FwdTime() time.Duration  { return s.fwdTime }
func (s Scale) TimestampColumn() string { return s.tsColumn }

// DecayTicksValue returns the decay constant of a tick decay scale.
func (s Scale) DecayTicksValue() int64 { return s.revTicks }

// DecayTau returns the decay constant of a time decay scale.
func (s Scale) DecayTau() time.Duration { return s.revTime }

func (s Scale) String() string {
	switch {
	case s.decay && s.mode == ModeTicks:
		return fmt.Sprintf("decay(%d ticks)", s.revTicks)
	case s.decay:
		return fmt.Sprintf("decay(%s on %s)", FormatDuration(s.revTime), s.tsColumn)
	case s.mode == ModeTicks:
		return fmt.Sprintf("ticks(rev=%d, fwd=%d)", s.revTicks, s.fwdTicks)
	case s.mode == ModeTime:
		return fmt.Sprintf("time(rev=%s, fwd=%s on %s)", FormatDuration(s.revTime), FormatDuration(s.fwdTime), s.tsColumn)
	case s.mode == ModeCumulative:
		return "cumulative"
	}
	return "none"
}

// ScaleConfig is the declarative (YAML) shape of a window. Exactly one of the
// tick pair, the time pair, or Cumulative may be set.
type ScaleConfig struct {
	RevTicks        *int64 `yaml:"rev_ticks"`
	FwdTicks        *int64 `yaml:"fwd_ticks"`
	RevTime         string `yaml:"rev_time"`
	FwdTime         string `yaml:"fwd_time"`
	TimestampColumn string `yaml:"timestamp_column"`
	Cumulative      bool   `yaml:"cumulative"`
}

// FromConfig validates a ScaleConfig and builds the Scale it describes.
func FromConfig(c ScaleConfig) (Scale, error) {
	hasTicks := c.RevTicks != nil || c.FwdTicks != nil
	hasTime := c.RevTime != "" || c.FwdTime != ""

	switch {
	case hasTicks && hasTime:
		return Scale{}, fmt.Errorf("%w: both tick and time extents are set", coreerr.ErrInvalidWindow)
	case c.Cumulative && (hasTicks || hasTime):
		return Scale{}, fmt.Errorf("%w: cumulative window cannot have extents", coreerr.ErrInvalidWindow)
	case c.Cumulative:
		return Cumulative(), nil
	case hasTicks:
		if c.TimestampColumn != "" {
			return Scale{}, fmt.Errorf("%w: tick window cannot name a timestamp column", coreerr.ErrInvalidWindow)
		}
		var rev, fwd int64
		if c.RevTicks != nil {
			rev = *c.RevTicks
		}
		if c.FwdTicks != nil {
			fwd = *c.FwdTicks
		}
		return Ticks(rev, fwd)
	case hasTime:
		var rev, fwd time.Duration
		var err error
		if c.RevTime != "" {
			if rev, err = ParseDuration(c.RevTime); err != nil {
				return Scale{}, fmt.Errorf("%w: rev_time: %v", coreerr.ErrInvalidWindow, err)
			}
		}
		if c.FwdTime != "" {
			if fwd, err = ParseDuration(c.FwdTime); err != nil {
				return Scale{}, fmt.Errorf("%w: fwd_time: %v", coreerr.ErrInvalidWindow, err)
			}
		}
		return Time(c.TimestampColumn, rev, fwd)
	}
	return Scale{}, fmt.Errorf("%w: no extent given", coreerr.ErrInvalidWindow)
}

// DecayConfig is the declarative shape of an exponential operator's decay.
type DecayConfig struct {
	DecayTicks      int64  `yaml:"decay_ticks"`
	DecayTime       string `yaml:"decay_time"`
	TimestampColumn string `yaml:"timestamp_column"`
}

// FromDecayConfig validates a DecayConfig and builds its decay Scale.
func FromDecayConfig(c DecayConfig) (Scale, error) {
	switch {
	case c.DecayTicks != 0 && c.DecayTime != "":
		return Scale{}, fmt.Errorf("%w: both decay_ticks and decay_time are set", coreerr.ErrInvalidWindow)
	case c.DecayTime != "":
		tau, err := ParseDuration(c.DecayTime)
		if err != nil {
			return Scale{}, fmt.Errorf("%w: decay_time: %v", coreerr.ErrInvalidWindow, err)
		}
		return DecayTime(c.TimestampColumn, tau)
	case c.DecayTicks != 0:
		if c.TimestampColumn != "" {
			return Scale{}, fmt.Errorf("%w: tick decay cannot name a timestamp column", coreerr.ErrInvalidWindow)
		}
		return DecayTicks(c.DecayTicks)
	}
	return Scale{}, fmt.Errorf("%w: no decay given", coreerr.ErrInvalidWindow)
}
