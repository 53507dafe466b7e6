package vm

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/tp"
)

// The vm executes lowered programs against a counted heap. It trusts
// the ownership ops inserted by the pass and audits them: every
// allocation tracks its increments and decrements, and a release of a
// dead object or a read through one is reported as heap corruption.

type (
	Kind uint8

	Value struct {
		Kind Kind
		Int  int64
		Obj  *Object
	}

	Object struct {
		ID    int
		Class string // "" for sequences and boxes

		Fields []Value
		Elems  []Value
		Boxed  Value
		IsBox  bool
		IsSeq  bool

		RC   int
		Incs int
		Decs int
		Dead bool
	}

	Heap struct {
		Objects []*Object
	}

	// Fault is a runtime fault raised by an inserted check or by an
	// access op. Anything else the vm reports is heap corruption or
	// malformed input.
	Fault struct {
		Kind string
		Msg  string
	}

	Machine struct {
		pkg  *ir.Package
		heap *Heap

		steps int
		limit int
	}
)

const (
	KindNone Kind = iota
	KindErr
	KindInt
	KindBool
	KindObj
)

const (
	FaultUnbound = "unbound variable"
	FaultIndex   = "index out of range"
	FaultCast    = "type mismatch"
	FaultMember  = "no member"
)

func (f Fault) Error() string { return f.Kind + ": " + f.Msg }

func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }
func Bool(v bool) Value { return Value{Kind: KindBool, Int: b2i(v)} }
func None() Value       { return Value{Kind: KindNone} }
func Unbound() Value    { return Value{Kind: KindErr} }

// Exec runs a function of the lowered package and returns its result
// still holding one reference. Heap.Release drops it, Heap.Check then
// audits the whole run.
func Exec(ctx context.Context, p *ir.Package, name string, args []Value) (Value, *Heap, error) {
	m := &Machine{
		pkg:   p,
		heap:  &Heap{},
		limit: 1 << 20,
	}

	tr := tlog.SpanFromContext(ctx)

	v, err := m.call(tr, name, args)
	if err != nil {
		return Unbound(), m.heap, err
	}

	return v, m.heap, nil
}

func (m *Machine) fn(name string) *ir.Func {
	for _, f := range m.pkg.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (m *Machine) call(tr tlog.Span, name string, args []Value) (Value, error) {
	f := m.fn(name)
	if f == nil {
		return Unbound(), errors.New("no function: %v", name)
	}

	if len(args) != len(f.In) {
		return Unbound(), errors.New("%v: want %v args, have %v", name, len(f.In), len(args))
	}

	regs := make([]Value, len(f.Regs))
	for i := range regs {
		regs[i] = Unbound()
	}

	for i, p := range f.In {
		regs[p.Reg] = args[i]
	}

	blk := f.Entry()

	for {
		for i, op := range blk.Ops {
			m.steps++
			if m.steps > m.limit {
				return Unbound(), errors.New("step limit")
			}

			tr.V("vm_steps").Printw("step", "func", f.Name, "block", blk.ID, "i", i, "typ", tlog.NextAsType, op)

			err := m.exec(tr, f, regs, op)
			if err != nil {
				return Unbound(), errors.Wrap(err, "%v b%v op %v", f.Name, blk.ID, i)
			}
		}

		switch t := blk.Term.(type) {
		case ir.Goto:
			blk = f.Blocks[t.To]
		case ir.Branch:
			c := regs[t.Cond]

			var take bool

			if t.IsErr {
				take = c.Kind == KindErr
			} else {
				if c.Kind != KindBool {
					return Unbound(), errors.New("%v b%v: branch on non-bool", f.Name, blk.ID)
				}

				take = c.Int != 0
			}

			if take {
				blk = f.Blocks[t.Then]
			} else {
				blk = f.Blocks[t.Else]
			}
		case ir.Ret:
			if t.S == ir.None {
				return None(), nil
			}

			v := regs[t.S]

			if err := m.check(v); err != nil {
				return Unbound(), errors.Wrap(err, "%v return", f.Name)
			}

			return v, nil
		case ir.Unreachable:
			return Unbound(), errors.New("%v b%v: unreachable executed", f.Name, blk.ID)
		default:
			return Unbound(), errors.New("%v b%v: unknown terminator", f.Name, blk.ID)
		}
	}
}

func (m *Machine) exec(tr tlog.Span, f *ir.Func, regs []Value, op ir.Op) error {
	load := func(r ir.Reg) (Value, error) {
		v := regs[r]

		if err := m.check(v); err != nil {
			return Unbound(), err
		}

		return v, nil
	}

	switch x := op.(type) {
	case ir.LoadInt:
		regs[x.D] = Int(x.Val)
	case ir.LoadBool:
		regs[x.D] = Bool(x.Val)
	case ir.LoadNone:
		regs[x.D] = None()
	case ir.LoadErr:
		regs[x.D] = Unbound()
	case ir.Assign:
		v, err := load(x.S)
		if err != nil {
			return err
		}

		regs[x.D] = v
	case ir.New:
		c := m.pkg.Classes.Class(x.Class)
		if c == nil {
			return errors.New("no class: %v", x.Class)
		}

		o := m.alloc()
		o.Class = c.Name
		o.Fields = make([]Value, len(c.Fields))

		for i := range o.Fields {
			o.Fields[i] = None()
		}

		regs[x.D] = Value{Kind: KindObj, Obj: o}
	case ir.NewSeq:
		o := m.alloc()
		o.IsSeq = true
		o.Elems = make([]Value, len(x.Elems))

		for i, e := range x.Elems {
			v, err := load(e)
			if err != nil {
				return err
			}

			o.Elems[i] = v // stolen
		}

		regs[x.D] = Value{Kind: KindObj, Obj: o}
	case ir.Call:
		args := make([]Value, len(x.Args))

		for i, a := range x.Args {
			v, err := load(a)
			if err != nil {
				return err
			}

			args[i] = v
		}

		v, err := m.call(tr, x.Func, args)
		if err != nil {
			return err
		}

		if x.D != ir.None {
			regs[x.D] = v
		}
	case ir.GetField:
		o, fl, err := m.field(regs, x.Obj, x.Field)
		if err != nil {
			return err
		}

		v := o.Fields[fl.Index]

		if !x.Borrow {
			m.incref(v)
		}

		regs[x.D] = v
	case ir.SetField:
		o, fl, err := m.field(regs, x.Obj, x.Field)
		if err != nil {
			return err
		}

		v, err := load(x.S)
		if err != nil {
			return err
		}

		old := o.Fields[fl.Index]
		o.Fields[fl.Index] = v // stolen

		return m.decref(old, false)
	case ir.GetElem:
		o, i, err := m.elem(regs, x.Seq, x.Index)
		if err != nil {
			return err
		}

		v := o.Elems[i]

		if !x.Borrow {
			m.incref(v)
		}

		regs[x.D] = v
	case ir.SetElem:
		o, i, err := m.elem(regs, x.Seq, x.Index)
		if err != nil {
			return err
		}

		v, err := load(x.S)
		if err != nil {
			return err
		}

		old := o.Elems[i]
		o.Elems[i] = v // stolen

		return m.decref(old, false)
	case ir.Box:
		v, err := load(x.S)
		if err != nil {
			return err
		}

		// sentinels are immortal, they box to themselves
		if v.Kind == KindNone {
			regs[x.D] = v
			break
		}

		o := m.alloc()
		o.IsBox = true
		o.Boxed = v

		regs[x.D] = Value{Kind: KindObj, Obj: o}
	case ir.Unbox:
		v, err := load(x.S)
		if err != nil {
			return err
		}

		if v.Kind == KindNone {
			regs[x.D] = v
			break
		}

		if v.Kind != KindObj || !v.Obj.IsBox {
			return Fault{Kind: FaultCast, Msg: "not a boxed scalar"}
		}

		regs[x.D] = v.Obj.Boxed

		return m.decref(v, false) // consumed
	case ir.Cast:
		v, err := load(x.S)
		if err != nil {
			return err
		}

		err = m.castCheck(f, x.D, v)
		if err != nil {
			return err
		}

		if !x.Borrow {
			m.incref(v)
		}

		regs[x.D] = v
	case ir.TypeTest:
		v, err := load(x.S)
		if err != nil {
			return err
		}

		regs[x.D] = Bool(v.Kind == KindObj && v.Obj.Class == x.Class)
	case ir.TraitGet:
		v, err := load(x.Obj)
		if err != nil {
			return err
		}

		t := m.pkg.Classes.Trait(x.Trait)
		if t == nil {
			return errors.New("no trait: %v", x.Trait)
		}

		if v.Kind != KindObj || v.Obj.Class == "" {
			return Fault{Kind: FaultCast, Msg: "trait access on non-object"}
		}

		c := m.pkg.Classes.Class(v.Obj.Class)

		// the bounded backward scan from the primary table
		if c.TraitTable(t) < 0 {
			return Fault{Kind: FaultCast, Msg: v.Obj.Class + " does not implement " + x.Trait}
		}

		if t.TraitSlot(x.Member) < 0 {
			return Fault{Kind: FaultMember, Msg: x.Member + " on trait " + x.Trait}
		}

		fl := c.Field(x.Member)
		if fl == nil {
			return Fault{Kind: FaultMember, Msg: x.Member + " on " + v.Obj.Class}
		}

		w := v.Obj.Fields[fl.Index]

		if !x.Borrow {
			m.incref(w)
		}

		regs[x.D] = w
	case ir.DynGet:
		v, err := load(x.Obj)
		if err != nil {
			return err
		}

		if v.Kind != KindObj || v.Obj.Class == "" {
			return Fault{Kind: FaultMember, Msg: x.Name + " on non-object"}
		}

		c := m.pkg.Classes.Class(v.Obj.Class)

		fl := c.Field(x.Name)
		if fl == nil {
			return Fault{Kind: FaultMember, Msg: x.Name + " on " + v.Obj.Class}
		}

		w := v.Obj.Fields[fl.Index]
		m.incref(w)

		regs[x.D] = w
	case ir.Add:
		return m.arith(regs, x.D, x.L, x.R, func(l, r int64) int64 { return l + r })
	case ir.Sub:
		return m.arith(regs, x.D, x.L, x.R, func(l, r int64) int64 { return l - r })
	case ir.Mul:
		return m.arith(regs, x.D, x.L, x.R, func(l, r int64) int64 { return l * r })
	case ir.Cmp:
		l, err := load(x.L)
		if err != nil {
			return err
		}

		r, err := load(x.R)
		if err != nil {
			return err
		}

		if l.Kind != KindInt || r.Kind != KindInt {
			return errors.New("compare of non-scalars")
		}

		var res bool

		switch x.Cond {
		case ir.Eq:
			res = l.Int == r.Int
		case ir.Ne:
			res = l.Int != r.Int
		case ir.Lt:
			res = l.Int < r.Int
		case ir.Le:
			res = l.Int <= r.Int
		case ir.Gt:
			res = l.Int > r.Int
		case ir.Ge:
			res = l.Int >= r.Int
		default:
			return errors.New("bad condition: %v", x.Cond)
		}

		regs[x.D] = Bool(res)
	case ir.KeepAlive:
		for _, r := range x.Regs {
			if _, err := load(r); err != nil {
				return err
			}
		}
	case ir.IncRef:
		v, err := load(x.S)
		if err != nil {
			return err
		}

		m.incref(v)
	case ir.DecRef:
		return m.decref(regs[x.S], x.Safe)
	case ir.CheckBound:
		if regs[x.S].Kind == KindErr {
			return Fault{Kind: FaultUnbound, Msg: x.Name}
		}
	default:
		return errors.New("unknown op: %T", op)
	}

	return nil
}

func (m *Machine) arith(regs []Value, d, lr, rr ir.Reg, f func(l, r int64) int64) error {
	l, r := regs[lr], regs[rr]

	if l.Kind != KindInt || r.Kind != KindInt {
		return errors.New("arithmetic on non-scalars")
	}

	regs[d] = Int(f(l.Int, r.Int))

	return nil
}

func (m *Machine) field(regs []Value, obj ir.Reg, name string) (*Object, *cls.Field, error) {
	v := regs[obj]

	if err := m.check(v); err != nil {
		return nil, nil, err
	}

	if v.Kind != KindObj || v.Obj.Class == "" {
		return nil, nil, errors.New("field access on non-object")
	}

	c := m.pkg.Classes.Class(v.Obj.Class)
	if c == nil {
		return nil, nil, errors.New("no class: %v", v.Obj.Class)
	}

	fl := c.Field(name)
	if fl == nil {
		return nil, nil, errors.New("no field %v on %v", name, c.Name)
	}

	return v.Obj, fl, nil
}

func (m *Machine) elem(regs []Value, seq, index ir.Reg) (*Object, int64, error) {
	v := regs[seq]

	if err := m.check(v); err != nil {
		return nil, 0, err
	}

	if v.Kind != KindObj || !v.Obj.IsSeq {
		return nil, 0, errors.New("element access on non-sequence")
	}

	i := regs[index]
	if i.Kind != KindInt {
		return nil, 0, errors.New("non-scalar index")
	}

	if i.Int < 0 || i.Int >= int64(len(v.Obj.Elems)) {
		return nil, 0, Fault{Kind: FaultIndex, Msg: errors.New("%v of %v", i.Int, len(v.Obj.Elems)).Error()}
	}

	return v.Obj, i.Int, nil
}

func (m *Machine) castCheck(f *ir.Func, d ir.Reg, v Value) error {
	switch tt := f.TypeOf(d).(type) {
	case tp.Object:
		if v.Kind != KindObj || v.Obj.Class != tt.Class {
			return Fault{Kind: FaultCast, Msg: "not a " + tt.Class}
		}
	case tp.Seq:
		if v.Kind != KindObj || !v.Obj.IsSeq {
			return Fault{Kind: FaultCast, Msg: "not a sequence"}
		}
	default:
		// any and union targets accept every boxed value
		if v.Kind != KindObj && v.Kind != KindNone {
			return Fault{Kind: FaultCast, Msg: "not a boxed value"}
		}
	}

	return nil
}

func (m *Machine) alloc() *Object {
	o := &Object{
		ID:   len(m.heap.Objects),
		RC:   1,
		Incs: 1,
	}

	m.heap.Objects = append(m.heap.Objects, o)

	return o
}

// check rejects reads through released values.
func (m *Machine) check(v Value) error {
	if v.Kind == KindObj && v.Obj.Dead {
		return errors.New("use after release of #%v", v.Obj.ID)
	}

	return nil
}

func (m *Machine) incref(v Value) {
	if v.Kind != KindObj {
		return
	}

	v.Obj.RC++
	v.Obj.Incs++
}

func (m *Machine) decref(v Value, safe bool) error {
	switch v.Kind {
	case KindNone:
		return nil
	case KindErr:
		if safe {
			return nil
		}

		return errors.New("release of unbound register")
	case KindObj:
		return m.heap.dec(v.Obj)
	}

	return errors.New("release of a scalar")
}

// dec drops one reference. A zero count releases the object and, with an
// explicit work list instead of recursion, everything it transitively
// owned.
func (h *Heap) dec(o *Object) error {
	if o.Dead {
		return errors.New("double release of #%v", o.ID)
	}

	o.RC--
	o.Decs++

	if o.RC > 0 {
		return nil
	}
	if o.RC < 0 {
		return errors.New("negative count on #%v", o.ID)
	}

	work := []*Object{o}

	for len(work) > 0 {
		x := work[len(work)-1]
		work = work[:len(work)-1]

		x.Dead = true

		for _, v := range x.owned() {
			if v.Kind != KindObj {
				continue
			}

			c := v.Obj

			if c.Dead {
				return errors.New("cascade into dead #%v", c.ID)
			}

			c.RC--
			c.Decs++

			if c.RC == 0 {
				work = append(work, c)
			}
			if c.RC < 0 {
				return errors.New("negative count on #%v", c.ID)
			}
		}
	}

	return nil
}

func (o *Object) owned() []Value {
	var vs []Value

	vs = append(vs, o.Fields...)
	vs = append(vs, o.Elems...)

	if o.IsBox {
		vs = append(vs, o.Boxed)
	}

	return vs
}

// Release drops the final reference the caller got from Exec.
func (h *Heap) Release(v Value) error {
	if v.Kind != KindObj {
		return nil
	}

	return h.dec(v.Obj)
}

// Check audits the heap after a run: every allocation released exactly
// once, every count balanced.
func (h *Heap) Check() error {
	for _, o := range h.Objects {
		if !o.Dead {
			return errors.New("leak: #%v alive with count %v", o.ID, o.RC)
		}

		if o.Incs != o.Decs {
			return errors.New("unbalanced #%v: %v incs, %v decs", o.ID, o.Incs, o.Decs)
		}
	}

	return nil
}

// Live returns how many objects are still allocated.
func (h *Heap) Live() (n int) {
	for _, o := range h.Objects {
		if !o.Dead {
			n++
		}
	}

	return n
}

func b2i(v bool) int64 {
	if v {
		return 1
	}

	return 0
}
