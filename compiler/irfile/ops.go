package irfile

import (
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/ir"
)

func (b *funcBuild) op(s opSpec) (ir.Op, error) {
	dst := func() (ir.Reg, error) { return b.reg(s.Dst) }
	src := func() (ir.Reg, error) { return b.reg(s.Src) }

	switch s.Op {
	case "int":
		d, err := dst()
		return ir.LoadInt{D: d, Val: s.Val}, err
	case "bool":
		d, err := dst()
		return ir.LoadBool{D: d, Val: s.Bool}, err
	case "none":
		d, err := dst()
		return ir.LoadNone{D: d}, err
	case "err":
		d, err := dst()
		return ir.LoadErr{D: d}, err
	case "assign":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.Assign{D: d, S: v}, err
	case "new":
		d, err := dst()
		return ir.New{D: d, Class: s.Class}, err
	case "seq":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		els, err := b.regList(s.Elems)

		return ir.NewSeq{D: d, Elems: els}, err
	case "call":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		args, err := b.regList(s.Args)

		return ir.Call{D: d, Func: s.Func, Args: args}, err
	case "getfield":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		o, err := b.reg(s.Obj)

		return ir.GetField{D: d, Obj: o, Field: s.Field, Borrow: s.Borrow}, err
	case "setfield":
		o, err := b.reg(s.Obj)
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.SetField{Obj: o, Field: s.Field, S: v}, err
	case "getelem":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		sq, err := b.reg(s.Seq)
		if err != nil {
			return nil, err
		}

		i, err := b.reg(s.Index)

		return ir.GetElem{D: d, Seq: sq, Index: i, Borrow: s.Borrow}, err
	case "setelem":
		sq, err := b.reg(s.Seq)
		if err != nil {
			return nil, err
		}

		i, err := b.reg(s.Index)
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.SetElem{Seq: sq, Index: i, S: v}, err
	case "box":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.Box{D: d, S: v}, err
	case "unbox":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.Unbox{D: d, S: v}, err
	case "cast":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.Cast{D: d, S: v, Borrow: s.Borrow}, err
	case "is":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		v, err := src()

		return ir.TypeTest{D: d, S: v, Class: s.Class}, err
	case "traitget":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		o, err := b.reg(s.Obj)

		return ir.TraitGet{D: d, Obj: o, Trait: s.Trait, Member: s.Member, Borrow: s.Borrow}, err
	case "dynget":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		o, err := b.reg(s.Obj)

		return ir.DynGet{D: d, Obj: o, Name: s.Name}, err
	case "add", "sub", "mul", "cmp":
		d, err := dst()
		if err != nil {
			return nil, err
		}

		l, err := b.reg(s.L)
		if err != nil {
			return nil, err
		}

		r, err := b.reg(s.R)
		if err != nil {
			return nil, err
		}

		switch s.Op {
		case "add":
			return ir.Add{D: d, L: l, R: r}, nil
		case "sub":
			return ir.Sub{D: d, L: l, R: r}, nil
		case "mul":
			return ir.Mul{D: d, L: l, R: r}, nil
		}

		return ir.Cmp{D: d, L: l, R: r, Cond: ir.Cond(s.Cond)}, nil
	case "keepalive":
		rs, err := b.regList(s.Regs)
		return ir.KeepAlive{Regs: rs}, err
	case "incref":
		v, err := src()
		return ir.IncRef{S: v}, err
	case "decref":
		v, err := src()
		return ir.DecRef{S: v, Safe: s.Safe}, err
	case "checkbound":
		v, err := src()
		return ir.CheckBound{S: v, Name: s.Name}, err
	}

	return nil, errors.New("unknown op: %q", s.Op)
}

func (b *funcBuild) term(s opSpec, blocks int) (ir.Term, error) {
	target := func(id int) (ir.BlockID, error) {
		if id < 0 || id >= blocks {
			return 0, errors.New("no block %v", id)
		}

		return ir.BlockID(id), nil
	}

	switch s.Op {
	case "goto":
		to, err := target(s.To)
		return ir.Goto{To: to}, err
	case "branch":
		c, err := b.reg(s.Cond)
		if err != nil {
			return nil, err
		}

		then, err := target(s.Then)
		if err != nil {
			return nil, err
		}

		els, err := target(s.Else)

		return ir.Branch{Cond: c, Then: then, Else: els, IsErr: s.IsErr}, err
	case "ret":
		if s.Src == "" {
			return ir.Ret{S: ir.None}, nil
		}

		v, err := b.reg(s.Src)

		return ir.Ret{S: v}, err
	case "unreachable":
		return ir.Unreachable{}, nil
	}

	return nil, errors.New("unknown terminator: %q", s.Op)
}
