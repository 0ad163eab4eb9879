package errors

import "errors"

// Sentinels for the engine's error taxonomy. Callers match with errors.Is;
// producers wrap them with fmt.Errorf("...: %w", ...).
var (
	// ErrInvalidWindow is returned when a window scale is malformed. Spec-build time only.
	ErrInvalidWindow = errors.New("invalid window")
	// ErrUnsupportedType is returned when an operation is applied to an incompatible column.
	ErrUnsupportedType = errors.New("unsupported column type")
	// ErrMissingGroup signals that the grouping index and the coordinator disagree.
	ErrMissingGroup = errors.New("missing group")
	// ErrFormulaEvaluation is recorded per row when a rolling formula fails.
	ErrFormulaEvaluation = errors.New("formula evaluation failed")
	// ErrNumericOverflow is recorded per row when an integer result leaves int64 range.
	ErrNumericOverflow = errors.New("numeric overflow")
	// ErrInvalidShift is returned when a cycle's shifts reorder or collide row keys.
	ErrInvalidShift = errors.New("invalid shift")
)

// Kind classifies an error for reporting.
type Kind string

const (
	KindInvalidWindow     Kind = "invalid_window"
	KindUnsupportedType   Kind = "unsupported_type"
	KindMissingGroup      Kind = "missing_group"
	KindFormulaEvaluation Kind = "formula_evaluation"
	KindNumericOverflow   Kind = "numeric_overflow"
	KindInvalidShift      Kind = "invalid_shift"
	KindInternal          Kind = "internal_error"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidWindow, KindInvalidWindow},
	{ErrUnsupportedType, KindUnsupportedType},
	{ErrMissingGroup, KindMissingGroup},
	{ErrFormulaEvaluation, KindFormulaEvaluation},
	{ErrNumericOverflow, KindNumericOverflow},
	{ErrInvalidShift, KindInvalidShift},
}

// KindOf returns the taxonomy kind of err, or KindInternal when it matches none.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Recoverable reports whether err is a per-row error that must not abort a cycle.
func Recoverable(err error) bool {
	return errors.Is(err, ErrFormulaEvaluation) || errors.Is(err, ErrNumericOverflow)
}
