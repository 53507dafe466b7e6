package ir

import (
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/tp"
)

// Verify checks structural invariants of every function.
//
// A failure here means the upstream builder or checker produced malformed
// IR. It is a compilation-aborting bug, never expected on valid input.
func Verify(p *Package) error {
	for _, f := range p.Funcs {
		err := VerifyFunc(p.Classes, f)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	return nil
}

func VerifyFunc(reg *cls.Registry, f *Func) (err error) {
	if len(f.Blocks) == 0 {
		return errors.New("no blocks")
	}

	for _, blk := range f.Blocks {
		err = verifyBlock(reg, f, blk)
		if err != nil {
			return errors.Wrap(err, "block b%d", blk.ID)
		}
	}

	return nil
}

func verifyBlock(reg *cls.Registry, f *Func, blk *Block) (err error) {
	if blk.Term == nil {
		return errors.New("no terminator")
	}

	for i, op := range blk.Ops {
		err = verifyOp(reg, f, op)
		if err != nil {
			return errors.Wrap(err, "op %d: %T", i, op)
		}
	}

	for _, r := range blk.Term.TermSources() {
		err = verifyReg(f, r)
		if err != nil {
			return errors.Wrap(err, "terminator")
		}
	}

	for _, s := range blk.Term.Succs() {
		if int(s) < 0 || int(s) >= len(f.Blocks) {
			return errors.New("terminator target out of range: b%d", s)
		}
	}

	if t, ok := blk.Term.(Ret); ok {
		switch {
		case t.S == None && !tp.IsVoid(f.Ret):
			return errors.New("missing return value, want %v", f.Ret)
		case t.S != None && !tp.Same(f.TypeOf(t.S), f.Ret):
			return errors.New("return type mismatch: %v is %v, want %v", t.S, f.TypeOf(t.S), f.Ret)
		}
	}

	return nil
}

func verifyOp(reg *cls.Registry, f *Func, op Op) (err error) {
	for _, r := range op.Sources() {
		err = verifyReg(f, r)
		if err != nil {
			return err
		}
	}

	if d := op.Dst(); d != None {
		err = verifyReg(f, d)
		if err != nil {
			return err
		}
	}

	switch x := op.(type) {
	case Assign:
		if !tp.Same(f.TypeOf(x.D), f.TypeOf(x.S)) {
			return errors.New("assign %v (%v) from %v (%v)", x.D, f.TypeOf(x.D), x.S, f.TypeOf(x.S))
		}
	case New:
		c := reg.Class(x.Class)
		if c == nil {
			return errors.New("unknown class: %v", x.Class)
		}
		if c.Opaque {
			return errors.New("construct of opaque class: %v", x.Class)
		}
	case GetField:
		return verifyField(reg, f, x.Obj, x.Field, x.D, false)
	case SetField:
		return verifyField(reg, f, x.Obj, x.Field, x.S, true)
	case GetElem:
		if err = wantSeq(f, x.Seq); err != nil {
			return err
		}
		if !tp.Unboxed(f.TypeOf(x.Index)) {
			return errors.New("index %v is %v", x.Index, f.TypeOf(x.Index))
		}
	case SetElem:
		if err = wantSeq(f, x.Seq); err != nil {
			return err
		}
	case Box:
		if !tp.Unboxed(f.TypeOf(x.S)) {
			return errors.New("box of boxed %v (%v)", x.S, f.TypeOf(x.S))
		}
		if tp.Unboxed(f.TypeOf(x.D)) {
			return errors.New("box into unboxed %v (%v)", x.D, f.TypeOf(x.D))
		}
	case Unbox:
		if tp.Unboxed(f.TypeOf(x.S)) {
			return errors.New("unbox of unboxed %v (%v)", x.S, f.TypeOf(x.S))
		}
		if !tp.Unboxed(f.TypeOf(x.D)) {
			return errors.New("unbox into boxed %v (%v)", x.D, f.TypeOf(x.D))
		}
	case Cast:
		if tp.Unboxed(f.TypeOf(x.S)) || tp.Unboxed(f.TypeOf(x.D)) {
			return errors.New("cast between unboxed forms: %v -> %v", f.TypeOf(x.S), f.TypeOf(x.D))
		}
	case TypeTest:
		if reg.Class(x.Class) == nil {
			return errors.New("unknown class: %v", x.Class)
		}
	case TraitGet:
		t := reg.Trait(x.Trait)
		if t == nil {
			return errors.New("unknown trait: %v", x.Trait)
		}
		if t.TraitSlot(x.Member) < 0 {
			return errors.New("trait %v has no member %v", x.Trait, x.Member)
		}
	case Add, Sub, Mul, Cmp:
		for _, r := range op.Sources() {
			if t := f.TypeOf(r); !tp.Unboxed(t) || tp.IsNone(t) {
				return errors.New("arithmetic on %v (%v)", r, t)
			}
		}
	}

	return nil
}

func verifyField(reg *cls.Registry, f *Func, obj Reg, field string, val Reg, store bool) error {
	o, ok := f.TypeOf(obj).(tp.Object)
	if !ok {
		return errors.New("field access on %v (%v)", obj, f.TypeOf(obj))
	}

	c := reg.Class(o.Class)
	if c == nil {
		return errors.New("unknown class: %v", o.Class)
	}

	if c.Opaque {
		return errors.New("direct field access on opaque class %v", o.Class)
	}

	fl := c.Field(field)
	if fl == nil {
		return errors.New("class %v has no field %v", o.Class, field)
	}

	if !tp.Same(f.TypeOf(val), fl.Type) {
		what := "load"
		if store {
			what = "store"
		}

		return errors.New("field %v.%v %v: %v, want %v", o.Class, field, what, f.TypeOf(val), fl.Type)
	}

	return nil
}

func wantSeq(f *Func, r Reg) error {
	if _, ok := f.TypeOf(r).(tp.Seq); !ok {
		return errors.New("element access on %v (%v)", r, f.TypeOf(r))
	}

	return nil
}

func verifyReg(f *Func, r Reg) error {
	if int(r) < 0 || int(r) >= len(f.Regs) {
		return errors.New("undeclared register: %d", r)
	}

	return nil
}

// Reachable returns the set of blocks reachable from entry, in
// breadth-first order. Unreachable blocks are allowed in the input and
// excluded from every analysis.
func Reachable(f *Func) []BlockID {
	q := []BlockID{0}
	seen := make([]bool, len(f.Blocks))
	seen[0] = true

	for i := 0; i < len(q); i++ {
		for _, s := range f.Blocks[q[i]].Term.Succs() {
			if seen[s] {
				continue
			}

			seen[s] = true
			q = append(q, s)
		}
	}

	return q
}
