package value

import (
	"strconv"
	"strings"
)

// GroupKey identifies the group a row belongs to. It is an opaque encoding of
// the row's by-column values and is only hashed when a row is placed.
type GroupKey string

// Ungrouped is the key shared by every row when no by-columns are given.
const Ungrouped GroupKey = ""

// MakeGroupKey encodes by-column values. Each part is length-prefixed so
// ("a|b") and ("a", "b") never collide, and a state tag keeps nulls apart
// from every string.
func MakeGroupKey(vals ...Value) GroupKey {
	if len(vals) == 0 {
		return Ungrouped
	}
	var b strings.Builder
	for _, v := range vals {
		var part string
		state := byte('v')
		switch {
		case v.IsNull():
			state = 'n'
		case v.IsError():
			state = 'e'
		default:
			part = v.String()
		}
		b.WriteString(strconv.Itoa(int(v.Kind())))
		b.WriteByte(state)
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return GroupKey(b.String())
}
