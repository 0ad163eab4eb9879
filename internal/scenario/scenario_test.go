package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/aevon-lab/updateby/internal/updateby"
)

const groupedScenario = `
name: grouped
columns:
  - {name: Sym, kind: string}
  - {name: X, kind: int}
plan:
  group_by: [Sym]
  operations:
    - op: rolling_sum
      columns: ["S=X"]
      window: {rev_ticks: 3}
    - op: cum_sum
      columns: ["C=X"]
rows:
  - {key: 0, values: {Sym: A, X: 1}}
  - {key: 1, values: {Sym: B, X: 2}}
  - {key: 2, values: {Sym: A, X: 3}}
expect:
  S: {0: 1, 1: 2, 2: 4}
  C: {0: 1, 1: 2, 2: 4}
cycles:
  - add: [{key: 3, values: {Sym: A, X: 5}}]
    expect:
      S: {3: 9}
      C: {3: 9}
  - remove: [0]
    expect:
      S: {2: 3, 3: 8}
      C: {2: 3, 3: 8}
  - shift: [{start: 1, end: 3, delta: 10}]
    expect:
      S: {11: 2, 12: 3, 13: 8}
  - modify: [{key: 12, values: {Sym: B}}]
    expect:
      C: {11: 2, 12: 5, 13: 5}
`

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func newRunner(t *testing.T, doc string, opts ...updateby.Option) *Runner {
	t.Helper()
	sc, err := Load(writeScenario(t, doc))
	require.NoError(t, err)
	plan, err := sc.ResolvePlan(nil)
	require.NoError(t, err)
	r, err := NewRunner(context.Background(), sc, plan, opts)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestReplayGroupedScenario(t *testing.T) {
	r := newRunner(t, groupedScenario)

	var reports []Report
	require.NoError(t, r.Run(context.Background(), func(rep Report) { reports = append(reports, rep) }))
	require.Len(t, reports, 5)
	require.Len(t, reports[0].Result.Changes, 6)
	require.True(t, r.Done())
	require.Equal(t, 3, r.Handle().Rows())
	require.Equal(t, 2, r.Handle().Groups())

	_, err := r.Step(context.Background())
	require.Error(t, err)
}

func TestReplaySealsPendingRows(t *testing.T) {
	doc := `
name: pending
columns:
  - {name: X, kind: int}
plan:
  operations:
    - op: rolling_sum
      columns: ["S=X"]
      window: {rev_ticks: 1, fwd_ticks: 1}
rows:
  - {key: 0, values: {X: 1}}
  - {key: 1, values: {X: 1}}
expect:
  S: {0: 2, 1: null}
cycles:
  - seal_all: true
    expect:
      S: {1: 1}
`
	r := newRunner(t, doc, updateby.WithForwardPolicy(updateby.ForwardPending))
	_, err := r.Bootstrap(context.Background())
	require.NoError(t, err)

	rep, err := r.Step(context.Background())
	require.NoError(t, err)
	require.Empty(t, rep.Result.Changes)
	require.NotNil(t, rep.Sealed)
	require.Len(t, rep.Sealed.Changes, 1)
}

func TestReplayReportsExpectationFailures(t *testing.T) {
	doc := `
name: wrong
columns:
  - {name: X, kind: float}
plan:
  operations:
    - op: rolling_avg
      columns: ["A=X"]
      window: {rev_ticks: 2}
rows:
  - {key: 0, values: {X: 1}}
  - {key: 1, values: {X: 2}}
expect:
  A: {0: 1, 1: 1.5000000000001}
cycles:
  - modify: [{key: 1, values: {X: "bad"}}]
`
	r := newRunner(t, doc)
	_, err := r.Bootstrap(context.Background())
	require.NoError(t, err, "float outputs compare with a tolerance")

	_, err = r.Step(context.Background())
	require.Error(t, err)

	r = newRunner(t, `
name: wrong
columns:
  - {name: X, kind: int}
plan:
  operations:
    - op: cum_sum
      columns: ["C=X"]
rows:
  - {key: 0, values: {X: 1}}
expect:
  C: {0: 2, 5: 1}
`)
	_, err = r.Bootstrap(context.Background())
	require.ErrorIs(t, err, ErrExpectationFailed)
	require.Contains(t, err.Error(), "C[0] = 1, want 2")
	require.Contains(t, err.Error(), "C[5] has no output")
}

func TestRunStopsOnCancel(t *testing.T) {
	sc, err := Parse([]byte(groupedScenario))
	require.NoError(t, err)
	plan, err := sc.ResolvePlan(nil)
	require.NoError(t, err)
	r, err := NewRunner(context.Background(), sc, plan, nil, WithInterval(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	emitted := 0
	err = r.Run(ctx, func(Report) {
		emitted++
		cancel()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, emitted)
	require.False(t, r.Done())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "columns: [{name: X, kind: int}]\nplan_ref: p",
			want: "name is required",
		},
		{
			name: "bad kind",
			doc:  "name: s\ncolumns: [{name: X, kind: blob}]\nplan_ref: p",
			want: "unknown column type",
		},
		{
			name: "no plan",
			doc:  "name: s\ncolumns: [{name: X, kind: int}]",
			want: "one of plan or plan_ref",
		},
		{
			name: "both plans",
			doc:  "name: s\ncolumns: [{name: X, kind: int}]\nplan_ref: p\nplan: {operations: [{op: cum_sum, columns: [X]}]}",
			want: "mutually exclusive",
		},
		{
			name: "bad operation",
			doc:  "name: s\ncolumns: [{name: X, kind: int}]\nplan: {operations: [{op: cum_sum, columns: [X], window: {rev_ticks: 2}}]}",
			want: "takes no window",
		},
		{
			name: "inverted shift",
			doc:  "name: s\ncolumns: [{name: X, kind: int}]\nplan_ref: p\ncycles: [{shift: [{start: 5, end: 1, delta: 1}]}]",
			want: "before start",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidScenario)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolvePlanByName(t *testing.T) {
	sc, err := Parse([]byte("name: s\ncolumns: [{name: X, kind: int}]\nplan_ref: stats"))
	require.NoError(t, err)

	_, err = sc.ResolvePlan(nil)
	require.ErrorIs(t, err, ErrInvalidScenario)

	stats := spec.Plan{Name: "stats", Operations: []spec.Definition{{Op: "cum_sum", Columns: []string{"C=X"}}}}
	plan, err := sc.ResolvePlan([]spec.Plan{{Name: "other"}, stats})
	require.NoError(t, err)
	require.Equal(t, "stats", plan.Name)
}

func TestSealKeys(t *testing.T) {
	sc, err := Parse([]byte(groupedScenario))
	require.NoError(t, err)
	tbl, err := sc.NewTable()
	require.NoError(t, err)

	c := CycleDef{Seal: [][]any{{"A"}, {"B"}}}
	keys, err := c.sealKeys(tbl, []string{"Sym"})
	require.NoError(t, err)
	require.Equal(t, []value.GroupKey{
		value.MakeGroupKey(value.String("A")),
		value.MakeGroupKey(value.String("B")),
	}, keys)

	_, err = CycleDef{Seal: [][]any{{"A", 1}}}.sealKeys(tbl, []string{"Sym"})
	require.ErrorIs(t, err, ErrInvalidScenario)
}
