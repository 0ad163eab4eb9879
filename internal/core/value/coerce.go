package value

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// FromAny converts a raw Go value (as decoded from YAML/JSON or produced by a
// caller) into a Value of the given kind. nil becomes a null of that kind.
func FromAny(k Kind, raw any) (Value, error) {
	if raw == nil {
		return Null(k), nil
	}
	if v, ok := raw.(Value); ok {
		return v, nil
	}
	switch k {
	case KindInt:
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("coerce %v to int: %w", raw, err)
		}
		return Int(n), nil
	case KindFloat:
		if s, ok := raw.(string); ok && (s == "NaN" || s == "nan") {
			return Float(math.NaN()), nil
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("coerce %v to float: %w", raw, err)
		}
		return Float(f), nil
	case KindDecimal:
		d, err := toDecimal(raw)
		if err != nil {
			return Value{}, err
		}
		return Decimal(d), nil
	case KindString:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return Value{}, fmt.Errorf("coerce %v to string: %w", raw, err)
		}
		return String(s), nil
	case KindBool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return Value{}, fmt.Errorf("coerce %v to bool: %w", raw, err)
		}
		return Bool(b), nil
	case KindTime:
		switch t := raw.(type) {
		case int, int32, int64:
			return Time(cast.ToInt64(t)), nil
		}
		ts, err := cast.ToTimeE(raw)
		if err != nil {
			return Value{}, fmt.Errorf("coerce %v to time: %w", raw, err)
		}
		return Time(ts.UnixNano()), nil
	}
	return Value{}, fmt.Errorf("cannot coerce %v to %s", raw, k)
}

// FromResult infers a Value from the dynamic type of a computed result, such
// as the return value of a formula.
func FromResult(raw any) Value {
	switch r := raw.(type) {
	case nil:
		return Null(KindFloat)
	case Value:
		return r
	case int:
		return Int(int64(r))
	case int8, int16, int32, int64, uint8, uint16, uint32:
		return Int(cast.ToInt64(r))
	case uint, uint64:
		u := cast.ToUint64(r)
		if u > math.MaxInt64 {
			return Float(float64(u))
		}
		return Int(int64(u))
	case float32:
		return Float(float64(r))
	case float64:
		return Float(r)
	case decimal.Decimal:
		return Decimal(r)
	case string:
		return String(r)
	case bool:
		return Bool(r)
	case time.Time:
		return Time(r.UnixNano())
	case []any:
		items := make([]Value, len(r))
		for i, item := range r {
			items[i] = FromResult(item)
		}
		return List(items)
	}
	return String(fmt.Sprintf("%v", raw))
}

func toDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("coerce %q to decimal: %w", v, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	n, err := cast.ToInt64E(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coerce %v to decimal: %w", raw, err)
	}
	return decimal.NewFromInt(n), nil
}
