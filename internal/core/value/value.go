package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the column type of a value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBool
	KindTime
	KindList
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindInt:     "int",
	KindFloat:   "float",
	KindDecimal: "decimal",
	KindString:  "string",
	KindBool:    "bool",
	KindTime:    "time",
	KindList:    "list",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Numeric reports whether values of the kind support arithmetic.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat || k == KindDecimal
}

// Orderable reports whether values of the kind can be compared with Compare.
func (k Kind) Orderable() bool {
	return k.Numeric() || k == KindString || k == KindTime
}

// ParseKind converts a schema type name ("int", "float", ...) into a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "long", "int64":
		return KindInt, nil
	case "double", "float64":
		return KindFloat, nil
	case "timestamp", "instant":
		return KindTime, nil
	}
	for k, n := range kindNames {
		if n == name && k != KindInvalid && k != KindList {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown column type %q", s)
}

type state uint8

const (
	stateNull state = iota
	stateValid
	stateError
)

// Value is a nullable cell. It is valid, null, or errored; an errored value
// carries the per-row error that produced it and is never equal to a null.
type Value struct {
	kind  Kind
	state state
	i     int64
	f     float64
	d     decimal.Decimal
	s     string
	list  []Value
	err   error
}

func Int(v int64) Value               { return Value{kind: KindInt, state: stateValid, i: v} }
func Float(v float64) Value           { return Value{kind: KindFloat, state: stateValid, f: v} }
func Decimal(v decimal.Decimal) Value { return Value{kind: KindDecimal, state: stateValid, d: v} }
func String(v string) Value           { return Value{kind: KindString, state: stateValid, s: v} }
func Time(nanos int64) Value          { return Value{kind: KindTime, state: stateValid, i: nanos} }
func Null(k Kind) Value               { return Value{kind: k} }
func Errored(k Kind, err error) Value { return Value{kind: k, state: stateError, err: err} }
func List(vals []Value) Value         { return Value{kind: KindList, state: stateValid, list: vals} }

func Bool(v bool) Value {
	out := Value{kind: KindBool, state: stateValid}
	if v {
		out.i = 1
	}
	return out
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.state == stateNull }
func (v Value) IsValid() bool  { return v.state == stateValid }
func (v Value) IsError() bool  { return v.state == stateError }
func (v Value) Err() error     { return v.err }
func (v Value) Int() int64     { return v.i }
func (v Value) Str() string    { return v.s }
func (v Value) Bool() bool     { return v.i != 0 }
func (v Value) Time() int64    { return v.i }
func (v Value) Items() []Value { return v.list }

// IsNaN reports whether v is a valid float NaN.
func (v Value) IsNaN() bool {
	return v.state == stateValid && v.kind == KindFloat && math.IsNaN(v.f)
}

// Float returns the value as float64. Int and Decimal values are converted.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt, KindTime:
		return float64(v.i)
	case KindDecimal:
		return v.d.InexactFloat64()
	default:
		return v.f
	}
}

// Decimal returns the value as a decimal. Int and Float values are converted.
func (v Value) Decimal() decimal.Decimal {
	switch v.kind {
	case KindInt, KindTime:
		return decimal.NewFromInt(v.i)
	case KindFloat:
		return decimal.NewFromFloat(v.f)
	default:
		return v.d
	}
}

// Compare orders two valid values of the same orderable kind.
// Float NaN sorts above every other float.
func Compare(a, b Value) int {
	switch a.kind {
	case KindInt, KindTime, KindBool:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	case KindFloat:
		an, bn := math.IsNaN(a.f), math.IsNaN(b.f)
		switch {
		case an && bn:
			return 0
		case an:
			return 1
		case bn:
			return -1
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		}
		return 0
	case KindDecimal:
		return a.d.Cmp(b.d)
	case KindString:
		return strings.Compare(a.s, b.s)
	}
	return 0
}

// Equal reports whether two values are indistinguishable to a consumer.
// Two NaNs are equal; errored values are equal when their messages match.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.state != o.state {
		return false
	}
	switch v.state {
	case stateNull:
		return true
	case stateError:
		return errorText(v.err) == errorText(o.err)
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindDecimal:
		return v.d.Equal(o.d)
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return v.i == o.i
}

// Interface returns the Go representation of v, nil for null and errored values.
func (v Value) Interface() any {
	if v.state != stateValid {
		return nil
	}
	switch v.kind {
	case KindInt, KindTime:
		return v.i
	case KindFloat:
		return v.f
	case KindDecimal:
		return v.d
	case KindString:
		return v.s
	case KindBool:
		return v.i != 0
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	switch v.state {
	case stateNull:
		return "null"
	case stateError:
		return "error(" + errorText(v.err) + ")"
	}
	switch v.kind {
	case KindInt, KindTime:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		return v.d.String()
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "invalid"
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
