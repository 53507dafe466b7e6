package ir

import (
	"fmt"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog"
)

// AppendFunc appends a deterministic textual dump of the function.
// The format is stable: golden tests compare against it byte for byte.
func AppendFunc(b []byte, f *Func) []byte {
	b = hfmt.Appendf(b, "func %v(", f.Name)

	for i, p := range f.In {
		if i != 0 {
			b = append(b, ", "...)
		}

		if p.Borrowed {
			b = append(b, '&')
		}

		b = hfmt.Appendf(b, "%v: %v", regName(f, p.Reg), p.Type)
	}

	b = hfmt.Appendf(b, ") -> %v\n", f.Ret)

	for _, blk := range f.Blocks {
		b = hfmt.Appendf(b, "b%d:\n", blk.ID)

		for _, op := range blk.Ops {
			b = append(b, "    "...)
			b = appendOp(b, f, op)
			b = append(b, '\n')
		}

		b = append(b, "    "...)
		b = appendTerm(b, f, blk.Term)
		b = append(b, '\n')
	}

	return b
}

func appendOp(b []byte, f *Func, op Op) []byte {
	r := func(x Reg) string { return regName(f, x) }

	switch x := op.(type) {
	case LoadInt:
		return hfmt.Appendf(b, "%v = %d", r(x.D), x.Val)
	case LoadBool:
		return hfmt.Appendf(b, "%v = %v", r(x.D), x.Val)
	case LoadNone:
		return hfmt.Appendf(b, "%v = none", r(x.D))
	case LoadErr:
		return hfmt.Appendf(b, "%v = <error>", r(x.D))
	case Assign:
		return hfmt.Appendf(b, "%v = %v", r(x.D), r(x.S))
	case New:
		return hfmt.Appendf(b, "%v = new %v", r(x.D), x.Class)
	case NewSeq:
		return hfmt.Appendf(b, "%v = seq [%v]", r(x.D), regList(f, x.Elems))
	case Call:
		if x.D == None {
			return hfmt.Appendf(b, "call %v(%v)", x.Func, regList(f, x.Args))
		}

		return hfmt.Appendf(b, "%v = call %v(%v)", r(x.D), x.Func, regList(f, x.Args))
	case GetField:
		return hfmt.Appendf(b, "%v = %v.%v%v", r(x.D), r(x.Obj), x.Field, borrowMark(x.Borrow))
	case SetField:
		return hfmt.Appendf(b, "%v.%v = %v", r(x.Obj), x.Field, r(x.S))
	case GetElem:
		return hfmt.Appendf(b, "%v = %v[%v]%v", r(x.D), r(x.Seq), r(x.Index), borrowMark(x.Borrow))
	case SetElem:
		return hfmt.Appendf(b, "%v[%v] = %v", r(x.Seq), r(x.Index), r(x.S))
	case Box:
		return hfmt.Appendf(b, "%v = box %v", r(x.D), r(x.S))
	case Unbox:
		return hfmt.Appendf(b, "%v = unbox %v", r(x.D), r(x.S))
	case Cast:
		return hfmt.Appendf(b, "%v = cast %v to %v%v", r(x.D), r(x.S), f.TypeOf(x.D), borrowMark(x.Borrow))
	case TypeTest:
		return hfmt.Appendf(b, "%v = %v is %v", r(x.D), r(x.S), x.Class)
	case TraitGet:
		return hfmt.Appendf(b, "%v = %v.[%v.%v]%v", r(x.D), r(x.Obj), x.Trait, x.Member, borrowMark(x.Borrow))
	case DynGet:
		return hfmt.Appendf(b, "%v = dynget %v %q", r(x.D), r(x.Obj), x.Name)
	case Add:
		return hfmt.Appendf(b, "%v = %v + %v", r(x.D), r(x.L), r(x.R))
	case Sub:
		return hfmt.Appendf(b, "%v = %v - %v", r(x.D), r(x.L), r(x.R))
	case Mul:
		return hfmt.Appendf(b, "%v = %v * %v", r(x.D), r(x.L), r(x.R))
	case Cmp:
		return hfmt.Appendf(b, "%v = %v %v %v", r(x.D), r(x.L), x.Cond, r(x.R))
	case KeepAlive:
		return hfmt.Appendf(b, "keepalive %v", regList(f, x.Regs))
	case IncRef:
		return hfmt.Appendf(b, "incref %v", r(x.S))
	case DecRef:
		if x.Safe {
			return hfmt.Appendf(b, "decref %v ; safe", r(x.S))
		}

		return hfmt.Appendf(b, "decref %v", r(x.S))
	case CheckBound:
		return hfmt.Appendf(b, "checkbound %v %q", r(x.S), x.Name)
	default:
		panic(fmt.Sprintf("op %T", op))
	}
}

func appendTerm(b []byte, f *Func, t Term) []byte {
	switch x := t.(type) {
	case Goto:
		return hfmt.Appendf(b, "goto b%d", x.To)
	case Branch:
		if x.IsErr {
			return hfmt.Appendf(b, "if is_error %v goto b%d else b%d", regName(f, x.Cond), x.Then, x.Else)
		}

		return hfmt.Appendf(b, "if %v goto b%d else b%d", regName(f, x.Cond), x.Then, x.Else)
	case Ret:
		if x.S == None {
			return append(b, "ret"...)
		}

		return hfmt.Appendf(b, "ret %v", regName(f, x.S))
	case Unreachable:
		return append(b, "unreachable"...)
	default:
		panic(fmt.Sprintf("terminator %T", t))
	}
}

func regName(f *Func, r Reg) string {
	if n := f.Regs[r].Name; n != "" {
		return n
	}

	return fmt.Sprintf("r%d", r)
}

func regList(f *Func, rs []Reg) string {
	var b strings.Builder

	for i, r := range rs {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(regName(f, r))
	}

	return b.String()
}

func borrowMark(borrow bool) string {
	if borrow {
		return " ; borrow"
	}

	return ""
}

// Dump logs the function ops one record each, the way the backend dumps
// a program before register allocation.
func Dump(tr tlog.Span, stage string, f *Func) {
	if tr.If("dump_" + stage) {
		tr.Printw("func", "stage", stage, "name", f.Name, "in", len(f.In), "ret", f.Ret, "blocks", len(f.Blocks))

		for _, blk := range f.Blocks {
			for i, op := range blk.Ops {
				tr.Printw("op", "block", blk.ID, "i", i, "typ", tlog.NextAsType, op, "val", op)
			}

			tr.Printw("term", "block", blk.ID, "typ", tlog.NextAsType, blk.Term, "val", blk.Term)
		}
	}
}
