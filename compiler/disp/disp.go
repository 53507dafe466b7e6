package disp

import (
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/tp"
)

// UnionGet lowers a member read on a union-typed register into a
// decision chain: one concrete-type test per alternative, in declared
// order, branching to alternative-specific access code. The final
// alternative is reached by default without a redundant test.
// Alternatives the compiler cannot see into collapse into a generic
// dynamic lookup as the last-resort branch.
//
// The chain only inspects type identity; every branch produces its value
// under the same ownership rules as a statically known access, coerced
// into one result register of type res.
func UnionGet(b *ir.Builder, reg *cls.Registry, obj ir.Reg, member string, res tp.Type) (ir.Reg, error) {
	u, ok := b.TypeOf(obj).(tp.Union)
	if !ok {
		return ir.None, errors.New("union access on %v", b.TypeOf(obj))
	}

	conc := tp.Concrete(u)

	var direct []*cls.Class
	opaque := len(conc) != len(u.Alts)

	for _, o := range conc {
		c := reg.Class(o.Class)
		if c == nil {
			return ir.None, errors.New("unknown class in union: %v", o.Class)
		}

		if c.Opaque || c.Field(member) == nil {
			opaque = true
			continue
		}

		direct = append(direct, c)
	}

	if len(direct) == 0 {
		d := b.Reg("", tp.Any{})
		b.Add(ir.DynGet{D: d, Obj: obj, Name: member})

		return b.Coerce(d, res), nil
	}

	out := b.Reg("", res)
	exit := b.Block()

	branch := func(c *cls.Class) {
		v := b.Reg("", tp.Object{Class: c.Name})
		b.Add(ir.Cast{D: v, S: obj})

		fl := c.Field(member)

		d := b.Reg("", fl.Type)
		b.Add(ir.GetField{D: d, Obj: v, Field: member})

		b.Add(ir.Assign{D: out, S: b.Coerce(d, res)})
		b.Goto(exit)
	}

	fallback := func() {
		d := b.Reg("", tp.Any{})
		b.Add(ir.DynGet{D: d, Obj: obj, Name: member})

		b.Add(ir.Assign{D: out, S: b.Coerce(d, res)})
		b.Goto(exit)
	}

	for i, c := range direct {
		last := i == len(direct)-1 && !opaque

		if last {
			branch(c)
			break
		}

		t := b.Reg("", tp.Bool)
		b.Add(ir.TypeTest{D: t, S: obj, Class: c.Name})

		then, next := b.Block(), b.Block()
		b.Branch(t, then, next)

		b.Activate(then)
		branch(c)

		b.Activate(next)
	}

	if opaque {
		fallback()
	}

	b.Activate(exit)

	return out, nil
}

// TraitMember lowers a member read through a trait contract. The
// concrete layout is unknown; the runtime locates the trait sub-table by
// the bounded backward scan from the primary dispatch table and indexes
// the member slot in it.
func TraitMember(b *ir.Builder, reg *cls.Registry, obj ir.Reg, trait, member string, res tp.Type) (ir.Reg, error) {
	t := reg.Trait(trait)
	if t == nil {
		return ir.None, errors.New("unknown trait: %v", trait)
	}

	if t.TraitSlot(member) < 0 {
		return ir.None, errors.New("trait %v has no member %v", trait, member)
	}

	d := b.Reg("", res)
	b.Add(ir.TraitGet{D: d, Obj: obj, Trait: trait, Member: member})

	return d, nil
}
