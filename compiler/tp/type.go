package tp

import (
	"strings"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Type is the static type of a register or operation result.
	// The checker resolves every type before the backend runs,
	// so values here are plain data, never re-inferred.
	Type interface {
		String() string
	}

	// Tagged is an unboxed tagged scalar: a small value encoded with a low
	// tag bit, carried in a machine word without heap allocation.
	Tagged struct {
		Name string
	}

	// Native is a fixed-width machine scalar.
	Native struct {
		Name   string
		Bits   int16
		Signed bool
		Float  bool
	}

	// Bit is a single boolean flag, the type of comparison and test results.
	Bit struct{}

	// None is the absent sentinel. It is a singleton and owns nothing.
	None struct{}

	// Void marks operations that produce no value.
	Void struct{}

	// Object is a heap instance of a named class. Refcounted.
	Object struct {
		Class string
	}

	// Seq is a refcounted sequence of Elem values.
	Seq struct {
		Elem Type
	}

	// Any is an opaque boxed value of unknown layout.
	// Access goes through the dynamic fallback.
	Any struct{}

	// Union holds one value whose concrete runtime type is one of Alts.
	// There is no tag word: identity is recovered from the value itself,
	// so unions are always carried boxed.
	Union struct {
		Alts []Type
	}
)

var (
	Int  = Tagged{Name: "int"}
	I64  = Native{Name: "i64", Bits: 64, Signed: true}
	F64  = Native{Name: "f64", Bits: 64, Float: true}
	Bool = Bit{}
)

// Optional is a union of x and the absent sentinel.
func Optional(x Type) Union {
	return Union{Alts: []Type{x, None{}}}
}

// Refcounted reports whether values of the type require matched
// increment/release pairs. Unboxed scalars and sentinels never do.
func Refcounted(x Type) bool {
	switch x.(type) {
	case Object, Seq, Any, Union:
		return true
	}

	return false
}

// Unboxed reports whether the type is carried outside the heap.
func Unboxed(x Type) bool {
	switch x.(type) {
	case Tagged, Native, Bit, None, Void:
		return true
	}

	return false
}

// ErrorOverlap reports whether the error sentinel of the type overlaps a
// valid value, so that unboundness cannot be recovered from the value alone.
func ErrorOverlap(x Type) bool {
	switch x.(type) {
	case Native, Bit:
		return true
	}

	return false
}

// Concrete returns the union alternatives naming a single runtime
// class, in declared order. Everything else (sentinels, nested unions,
// any) has no type test of its own and goes through the fallback.
func Concrete(u Union) []Object {
	var cs []Object

	for _, a := range u.Alts {
		if o, ok := a.(Object); ok {
			cs = append(cs, o)
		}
	}

	return cs
}

// IsNone reports whether the type is the absent sentinel.
func IsNone(x Type) bool {
	_, ok := x.(None)
	return ok
}

// IsVoid reports whether the type carries no value.
func IsVoid(x Type) bool {
	if x == nil {
		return true
	}

	_, ok := x.(Void)

	return ok
}

// Same reports structural equality of two types.
func Same(x, y Type) bool {
	switch x := x.(type) {
	case Union:
		y, ok := y.(Union)
		if !ok || len(x.Alts) != len(y.Alts) {
			return false
		}

		for i := range x.Alts {
			if !Same(x.Alts[i], y.Alts[i]) {
				return false
			}
		}

		return true
	case Seq:
		y, ok := y.(Seq)

		return ok && Same(x.Elem, y.Elem)
	default:
		return x == y
	}
}

func (x Tagged) String() string { return x.Name }
func (x Native) String() string { return x.Name }
func (x Bit) String() string    { return "bit" }
func (x None) String() string   { return "none" }
func (x Void) String() string   { return "void" }
func (x Any) String() string    { return "any" }
func (x Object) String() string { return "obj " + x.Class }
func (x Seq) String() string    { return "seq " + x.Elem.String() }

func (x Union) String() string {
	var b strings.Builder

	b.WriteString("union[")

	for i, a := range x.Alts {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(a.String())
	}

	b.WriteString("]")

	return b.String()
}

func (x Union) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, x.String())
}
