package value

import (
	"strconv"
	"strings"
)

// String formats v per §4.1: nil as "()", arrays as space-separated
// parenthesized forms, symbols verbatim, numbers in their natural form,
// closures as "<closure HEX>".
func (v Value) String() string {
	switch {
	case v.IsNil():
		return "()"
	case v.IsInteger32():
		i, _ := v.AsInt32()
		return strconv.FormatInt(int64(i), 10)
	case v.IsSymbol():
		name, _ := SymbolName(v)
		return name
	case v.IsArray():
		return arrayString(v)
	case v.IsClosure():
		return closureString(v)
	default:
		f, _ := v.AsFloat64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func arrayString(v Value) string {
	obj, _ := arrayObjectOf(v)
	if obj == nil {
		return "()"
	}
	var b strings.Builder
	b.WriteByte('(')
	for i, elem := range obj.elems {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(elem.String())
	}
	b.WriteByte(')')
	return b.String()
}
