package accumulator

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/cast"
	"golang.org/x/sync/singleflight"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/value"
)

// DefaultFormulaCacheSize bounds the number of compiled formulas kept.
const DefaultFormulaCacheSize = 256

// Program is a compiled rolling formula. The window's values are bound to
// the parameter name as a list.
type Program struct {
	source string
	param  string
	prog   *vm.Program
}

func (p *Program) Source() string { return p.source }
func (p *Program) Param() string  { return p.param }

// Eval runs the formula over one window. Failures are returned as an
// errored value so the row, not the cycle, carries them.
func (p *Program) Eval(window []any) value.Value {
	out, err := expr.Run(p.prog, map[string]any{p.param: window})
	if err != nil {
		return value.Errored(value.KindInvalid, fmt.Errorf("%w: %s: %v", coreerr.ErrFormulaEvaluation, p.source, err))
	}
	return value.FromResult(out)
}

// Formulas compiles and caches formula programs. It is safe for concurrent
// use; concurrent compiles of the same formula are deduplicated.
type Formulas struct {
	cache   *lru.Cache[string, *Program]
	compile singleflight.Group
}

// NewFormulas creates a cache holding up to size programs.
func NewFormulas(size int) (*Formulas, error) {
	if size <= 0 {
		size = DefaultFormulaCacheSize
	}
	cache, err := lru.New[string, *Program](size)
	if err != nil {
		return nil, fmt.Errorf("formula cache: %w", err)
	}
	return &Formulas{cache: cache}, nil
}

// Len returns the number of cached programs.
func (f *Formulas) Len() int { return f.cache.Len() }

// Compile returns the program for source with its window bound to param.
func (f *Formulas) Compile(source, param string) (*Program, error) {
	key := param + "\x00" + source
	if p, ok := f.cache.Get(key); ok {
		return p, nil
	}

	res, err, _ := f.compile.Do(key, func() (any, error) {
		if p, ok := f.cache.Get(key); ok {
			return p, nil
		}
		prog, err := expr.Compile(source, formulaOptions(param)...)
		if err != nil {
			return nil, fmt.Errorf("compile formula %q: %w", source, err)
		}
		p := &Program{source: source, param: param, prog: prog}
		f.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Program), nil
}

func formulaOptions(param string) []expr.Option {
	return []expr.Option{
		expr.Env(map[string]any{param: []any{}}),
		expr.Function("sumOf", func(params ...any) (any, error) {
			xs, err := numbers("sumOf", params)
			if err != nil {
				return nil, err
			}
			var s float64
			for _, x := range xs {
				s += x
			}
			return s, nil
		}),
		expr.Function("avgOf", func(params ...any) (any, error) {
			xs, err := numbers("avgOf", params)
			if err != nil {
				return nil, err
			}
			if len(xs) == 0 {
				return math.NaN(), nil
			}
			var s float64
			for _, x := range xs {
				s += x
			}
			return s / float64(len(xs)), nil
		}),
		expr.Function("minOf", func(params ...any) (any, error) {
			return extreme("minOf", params, func(a, b float64) bool { return a < b })
		}),
		expr.Function("maxOf", func(params ...any) (any, error) {
			return extreme("maxOf", params, func(a, b float64) bool { return a > b })
		}),
		expr.Function("countOf", func(params ...any) (any, error) {
			xs, err := list("countOf", params)
			if err != nil {
				return nil, err
			}
			return len(xs), nil
		}),
	}
}

func list(fn string, params []any) ([]any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%s takes 1 argument, got %d", fn, len(params))
	}
	xs, ok := params[0].([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", fn, params[0])
	}
	return xs, nil
}

func numbers(fn string, params []any) ([]float64, error) {
	xs, err := list(fn, params)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func extreme(fn string, params []any, better func(a, b float64) bool) (any, error) {
	xs, err := numbers(fn, params)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, nil
	}
	best := xs[0]
	for _, x := range xs[1:] {
		if better(x, best) {
			best = x
		}
	}
	return best, nil
}

// formulaArg is the formula-side representation of a window value.
// Decimals are handed over as float64.
func formulaArg(v value.Value) any {
	if v.Kind() == value.KindDecimal && v.IsValid() {
		return v.Decimal().InexactFloat64()
	}
	return v.Interface()
}
