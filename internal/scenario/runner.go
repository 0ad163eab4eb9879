package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.uber.org/multierr"

	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/storage"
	"github.com/aevon-lab/updateby/internal/core/storage/memory"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/updateby"
)

// ErrExpectationFailed is returned when a cycle's outputs differ from the
// scenario's expectations.
var ErrExpectationFailed = errors.New("expectation failed")

const floatTolerance = 1e-9

// Report is the outcome of one replayed cycle. Cycle 0 is the bootstrap.
type Report struct {
	Cycle    int
	Result   *updateby.CycleResult
	Sealed   *updateby.CycleResult // nil unless the cycle sealed groups
	Duration time.Duration
}

// Runner replays a scenario against a memory table and one handle.
type Runner struct {
	sc       *Scenario
	table    *memory.Table
	handle   *updateby.Handle
	interval time.Duration
	next     int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInterval paces cycles: one per tick instead of back to back.
func WithInterval(d time.Duration) RunnerOption { return func(r *Runner) { r.interval = d } }

// NewRunner builds the scenario's table and a handle for plan over it.
func NewRunner(ctx context.Context, sc *Scenario, plan spec.Plan, opts []updateby.Option, ropts ...RunnerOption) (*Runner, error) {
	tbl, err := sc.NewTable()
	if err != nil {
		return nil, err
	}
	h, err := updateby.BuildPlan(ctx, tbl, plan, opts...)
	if err != nil {
		return nil, err
	}
	r := &Runner{sc: sc, table: tbl, handle: h}
	for _, o := range ropts {
		o(r)
	}
	return r, nil
}

// Close releases the handle's metric series.
func (r *Runner) Close() { r.handle.Close() }

// Handle returns the handle being driven.
func (r *Runner) Handle() *updateby.Handle { return r.handle }

// Table returns the table being mutated.
func (r *Runner) Table() *memory.Table { return r.table }

// Bootstrap computes outputs for the initial rows and checks the
// scenario's top-level expectations.
func (r *Runner) Bootstrap(ctx context.Context) (Report, error) {
	start := time.Now()
	r.table.TakeDelta()
	res, err := r.handle.Bootstrap(ctx, storage.RowSet{})
	if err != nil {
		return Report{}, fmt.Errorf("bootstrap: %w", err)
	}
	rep := Report{Cycle: 0, Result: res, Duration: time.Since(start)}
	return rep, r.check(0, r.sc.Expect)
}

// Done reports whether every cycle has been replayed.
func (r *Runner) Done() bool { return r.next >= len(r.sc.Cycles) }

// Step replays the next cycle.
func (r *Runner) Step(ctx context.Context) (Report, error) {
	if r.Done() {
		return Report{}, fmt.Errorf("scenario %q has no more cycles", r.sc.Name)
	}
	n := r.next + 1
	c := r.sc.Cycles[r.next]
	r.next++

	start := time.Now()
	if err := c.stage(r.table); err != nil {
		return Report{}, fmt.Errorf("cycle %d: %w", n, err)
	}
	res, err := r.handle.ApplyCycle(ctx, r.table.TakeDelta())
	if err != nil {
		return Report{}, fmt.Errorf("cycle %d: %w", n, err)
	}
	rep := Report{Cycle: n, Result: res}

	if c.SealAll || len(c.Seal) > 0 {
		keys, err := c.sealKeys(r.table, r.handle.GroupBy())
		if err != nil {
			return Report{}, fmt.Errorf("cycle %d: %w", n, err)
		}
		if rep.Sealed, err = r.handle.Seal(ctx, keys...); err != nil {
			return Report{}, fmt.Errorf("cycle %d seal: %w", n, err)
		}
	}
	rep.Duration = time.Since(start)
	return rep, r.check(n, c.Expect)
}

// Run bootstraps and replays every cycle, calling emit after each. With an
// interval set, cycles are paced by a ticker and cancellation stops the
// replay between cycles.
func (r *Runner) Run(ctx context.Context, emit func(Report)) error {
	slog.Info("[Replay] Starting scenario",
		"scenario", r.sc.Name,
		"handle", r.handle.ID(),
		"rows", len(r.sc.Rows),
		"cycles", len(r.sc.Cycles),
		"interval", r.interval,
	)

	rep, err := r.Bootstrap(ctx)
	if err != nil {
		return err
	}
	emit(rep)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for !r.Done() {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				slog.Info("[Replay] Stopping (context cancelled)", "scenario", r.sc.Name, "cycles_done", r.next)
				return ctx.Err()
			}
		}
		rep, err := r.Step(ctx)
		if err != nil {
			slog.Error("[Replay] Cycle failed", "scenario", r.sc.Name, "cycle", r.next, "error", err)
			return err
		}
		emit(rep)
	}

	slog.Info("[Replay] Scenario complete",
		"scenario", r.sc.Name,
		"cycles", len(r.sc.Cycles),
		"rows", r.handle.Rows(),
		"groups", r.handle.Groups(),
	)
	return nil
}

// check compares the published snapshot against want.
func (r *Runner) check(cycle int, want Expect) error {
	if len(want) == 0 {
		return nil
	}
	snap := r.handle.Snapshot()
	var errs error
	for col, rows := range want {
		for key, raw := range rows {
			got, ok := snap.Value(col, storage.RowKey(key))
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("%w: cycle %d: %s[%d] has no output", ErrExpectationFailed, cycle, col, key))
				continue
			}
			if !matches(got, raw) {
				errs = multierr.Append(errs, fmt.Errorf("%w: cycle %d: %s[%d] = %s, want %v", ErrExpectationFailed, cycle, col, key, got, raw))
			}
		}
	}
	return errs
}

// matches reports whether got is the value raw describes.
func matches(got value.Value, raw any) bool {
	switch {
	case raw == nil:
		return got.IsNull()
	case raw == "<error>":
		return got.IsError()
	case !got.IsValid():
		return false
	}
	switch got.Kind() {
	case value.KindList:
		return got.String() == fmt.Sprint(raw)
	case value.KindFloat:
		want, err := value.FromAny(value.KindFloat, raw)
		if err != nil {
			return false
		}
		if want.IsNaN() || got.IsNaN() {
			return want.IsNaN() && got.IsNaN()
		}
		w, g := want.Float(), got.Float()
		return math.Abs(w-g) <= floatTolerance*math.Max(1, math.Abs(w))
	}
	want, err := value.FromAny(got.Kind(), raw)
	return err == nil && want.Equal(got)
}
