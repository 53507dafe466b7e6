package rc

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/brisklang/brisk/compiler/df"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/set"
	"github.com/brisklang/brisk/compiler/tp"
)

type inserter struct {
	f     *ir.Func
	funcs map[string]*ir.Func

	live  *df.Result
	must  *df.Result
	maybe *df.Result

	borrowed df.RegSet
	safe     df.RegSet

	// decrefs to prepend to single-predecessor blocks, applied after
	// the main walk so op indexes keep matching the analysis results
	prefix map[ir.BlockID][]ir.Op

	// split edge blocks, shared between edges needing the same releases
	cache map[string]ir.BlockID

	preds [][]ir.BlockID
}

// Insert runs the ownership pass over every function of the package.
//
// After the pass each function carries explicit increments, releases,
// safe releases and unbound-variable checks on every control flow path,
// such that every counted value is released exactly once and never
// touched after release.
func Insert(ctx context.Context, p *ir.Package) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "ownership", "package", p.Path)
	defer tr.Finish("err", &err)

	for _, f := range p.Funcs {
		err = InsertFunc(ctx, p, f)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	return nil
}

// InsertFunc transforms a single function: borrow upgrade first, then
// unbound-variable checks, then the reference count insertion itself.
// The package is needed for callee signatures: a call hands a reference
// to the callee for every param not marked borrowed.
func InsertFunc(ctx context.Context, p *ir.Package, f *ir.Func) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "ownership func", "name", f.Name)
	defer tr.Finish("err", &err)

	ir.Dump(tr, "rc_input", f)

	sigs := map[string]*ir.Func{}
	for _, g := range p.Funcs {
		sigs[g.Name] = g
	}

	err = checkCalls(f, sigs)
	if err != nil {
		return err
	}

	upgradeBorrows(f)

	ir.Dump(tr, "rc_borrow", f)

	need, err := insertUnboundChecks(f)
	if err != nil {
		return errors.Wrap(err, "unbound checks")
	}

	safe := insertRefcounts(f, sigs)

	need.Merge(safe)
	initUnbound(f, need)

	ir.Dump(tr, "rc_output", f)

	return nil
}

// insertUnboundChecks guards every read of a register the must-assigned
// analysis cannot prove bound. The returned set needs the sentinel
// initialization at entry.
//
// Fixed-width scalar registers cannot carry the sentinel in emitted
// code, so the input must assign them on every path to any read.
func insertUnboundChecks(f *ir.Func) (df.RegSet, error) {
	must := df.MustAssigned(f)
	need := set.Make[ir.Reg](len(f.Regs))

	for _, b := range ir.Reachable(f) {
		blk := f.Blocks[b]
		checked := set.Make[ir.Reg](len(f.Regs))

		out := make([]ir.Op, 0, len(blk.Ops))

		guard := func(s ir.Reg, m df.RegSet) error {
			if m.IsSet(s) || checked.IsSet(s) {
				return nil
			}

			if tp.ErrorOverlap(f.TypeOf(s)) {
				return errors.New("%v of type %v may be unbound", f.NameOf(s), f.TypeOf(s))
			}

			checked.Set(s)
			need.Set(s)

			out = append(out, ir.CheckBound{S: s, Name: f.NameOf(s)})

			return nil
		}

		for i, op := range blk.Ops {
			for _, s := range op.Sources() {
				err := guard(s, must.Before[b][i])
				if err != nil {
					return need, err
				}
			}

			out = append(out, op)

			if x, ok := op.(ir.LoadErr); ok {
				checked.Clear(x.D)
			}
		}

		for _, s := range blk.Term.TermSources() {
			err := guard(s, must.Before[b][len(blk.Ops)])
			if err != nil {
				return need, err
			}
		}

		blk.Ops = out
	}

	return need, nil
}

// insertRefcounts is the core rewrite. Per op: stolen sources staying
// live, borrowed or stolen twice get an increment first; dying sources
// and dead results get a release after. Values dying between blocks are
// released on the edge, splitting it when the edge is critical. Returns
// the registers that got a safe release.
func insertRefcounts(f *ir.Func, sigs map[string]*ir.Func) df.RegSet {
	ins := &inserter{
		f:        f,
		funcs:    sigs,
		live:     df.Liveness(f),
		must:     df.MustAssigned(f),
		maybe:    df.MaybeAssigned(f),
		borrowed: borrowedRegs(f),
		safe:     set.Make[ir.Reg](len(f.Regs)),
		prefix:   map[ir.BlockID][]ir.Op{},
		cache:    map[string]ir.BlockID{},
	}

	reach := ir.Reachable(f)

	ins.preds = make([][]ir.BlockID, len(f.Blocks))

	for _, b := range reach {
		for _, s := range f.Blocks[b].Term.Succs() {
			ins.preds[s] = append(ins.preds[s], b)
		}
	}

	for _, b := range reach {
		ins.block(f.Blocks[b])
	}

	for b, pre := range ins.prefix {
		blk := f.Blocks[b]
		blk.Ops = append(pre, blk.Ops...)
	}

	return ins.safe
}

func (ins *inserter) block(blk *ir.Block) {
	f := ins.f
	b := blk.ID
	n := len(blk.Ops)

	out := make([]ir.Op, 0, n+4)

	if b == 0 {
		// arguments dead on arrival
		for _, p := range f.In {
			if p.Borrowed || !tp.Refcounted(p.Type) {
				continue
			}

			if ins.live.Before[b][0].IsSet(p.Reg) {
				continue
			}

			out = append(out, ir.DecRef{S: p.Reg})
		}
	}

	emitted := set.Make[ir.Reg](len(f.Regs))

	for i, op := range blk.Ops {
		switch op.(type) {
		case ir.IncRef, ir.DecRef, ir.CheckBound:
			out = append(out, op)
			continue
		}

		d := op.Dst()

		if a, ok := op.(ir.Assign); ok && a.D == a.S {
			out = append(out, op)
			continue
		}

		// in-place updates of uncounted scalars are fine; a counted
		// result landing on its own source has no release point
		if d != ir.None && tp.Refcounted(f.TypeOf(d)) {
			for _, s := range op.Sources() {
				if s == d {
					panic(fmt.Sprintf("%v b%v op %v: counted result overwrites its own source r%v", f.Name, b, i, d))
				}
			}
		}

		st := ins.stolenBy(op)

		for idx, s := range st {
			if !tp.Refcounted(f.TypeOf(s)) {
				continue
			}

			if ins.live.After[b][i].IsSet(s) || ins.borrowed.IsSet(s) || contains(st[:idx], s) {
				out = append(out, ir.IncRef{S: s})
			}
		}

		// keepalive pinned its root up to here, drop it
		if _, ok := op.(ir.KeepAlive); !ok {
			out = append(out, op)
		}

		emitted.Reset()

		for _, s := range op.Sources() {
			if emitted.IsSet(s) || !tp.Refcounted(f.TypeOf(s)) || ins.borrowed.IsSet(s) {
				continue
			}

			if contains(st, s) || ins.live.After[b][i].IsSet(s) {
				continue
			}

			emitted.Set(s)

			out = append(out, ins.decref(s, ins.must.After[b][i]))
		}

		// dead result
		if d != ir.None && tp.Refcounted(f.TypeOf(d)) && !ins.borrowed.IsSet(d) && !ins.live.After[b][i].IsSet(d) {
			out = append(out, ir.DecRef{S: d})
		}
	}

	switch t := blk.Term.(type) {
	case ir.Ret:
		if t.S != ir.None && tp.Refcounted(f.TypeOf(t.S)) && ins.borrowed.IsSet(t.S) {
			out = append(out, ir.IncRef{S: t.S})
		}

		ins.live.Before[b][n].Range(func(r ir.Reg) bool {
			if r == t.S || !tp.Refcounted(f.TypeOf(r)) || ins.borrowed.IsSet(r) {
				return true
			}

			out = append(out, ins.decref(r, ins.must.Before[b][n]))

			return true
		})
	case ir.Unreachable:
	default:
		for _, to := range blk.Term.Succs() {
			var dies []ir.Reg

			ins.live.Before[b][n].Range(func(r ir.Reg) bool {
				if !tp.Refcounted(f.TypeOf(r)) || ins.borrowed.IsSet(r) {
					return true
				}

				if ins.live.Before[to][0].IsSet(r) {
					return true
				}

				// holds the sentinel at most, nothing to release
				if !ins.maybe.Before[b][n].IsSet(r) {
					return true
				}

				dies = append(dies, r)

				return true
			})

			if len(dies) == 0 {
				continue
			}

			ops := make([]ir.Op, len(dies))
			for j, r := range dies {
				ops[j] = ins.decref(r, ins.must.Before[b][n])
			}

			switch {
			case len(blk.Term.Succs()) == 1:
				out = append(out, ops...)
			case len(ins.preds[to]) == 1 && to != 0:
				// releases prefixed to the entry block would also run
				// on function entry, the back edge gets its own block
				ins.prefix[to] = append(ins.prefix[to], ops...)
			default:
				blk.Term = ins.split(blk.Term, to, ops)
			}
		}
	}

	blk.Ops = out
}

func (ins *inserter) decref(s ir.Reg, mustHere df.RegSet) ir.Op {
	safe := !mustHere.IsSet(s)
	if safe {
		ins.safe.Set(s)
	}

	return ir.DecRef{S: s, Safe: safe}
}

// split routes the edge to a fresh block holding the releases. Edges
// needing the same releases into the same target share the block.
func (ins *inserter) split(t ir.Term, to ir.BlockID, ops []ir.Op) ir.Term {
	key := fmt.Sprintf("%v %v", to, ops)

	id, ok := ins.cache[key]
	if !ok {
		id = ir.BlockID(len(ins.f.Blocks))

		ins.f.Blocks = append(ins.f.Blocks, &ir.Block{
			ID:   id,
			Ops:  ops,
			Term: ir.Goto{To: to},
			From: loc.Caller(0),
		})

		ins.cache[key] = id
	}

	switch x := t.(type) {
	case ir.Branch:
		if x.Then == to {
			x.Then = id
		}
		if x.Else == to {
			x.Else = id
		}

		return x
	}

	panic(fmt.Sprintf("split %T edge", t))
}

// initUnbound seeds maybe-unbound registers with the error sentinel so
// both the bound checks and the safe releases have a value to test.
func initUnbound(f *ir.Func, need df.RegSet) {
	var pre []ir.Op

	need.Range(func(r ir.Reg) bool {
		pre = append(pre, ir.LoadErr{D: r})

		return true
	})

	if len(pre) == 0 {
		return
	}

	entry := f.Entry()
	entry.Ops = append(pre, entry.Ops...)
}

func borrowedRegs(f *ir.Func) df.RegSet {
	s := set.Make[ir.Reg](len(f.Regs))

	for _, p := range f.In {
		if p.Borrowed {
			s.Set(p.Reg)
		}
	}

	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			if _, ok := ir.BorrowedView(op); ok {
				s.Set(op.Dst())
			}
		}
	}

	return s
}

// stolenBy is ir.Stolen plus plain copies and signature-aware calls: an
// assignment hands its reference to the destination, a call hands one
// to the callee for every param not marked borrowed.
func (ins *inserter) stolenBy(op ir.Op) []ir.Reg {
	switch x := op.(type) {
	case ir.Assign:
		return []ir.Reg{x.S}
	case ir.Call:
		g := ins.funcs[x.Func]

		var st []ir.Reg

		for i, a := range x.Args {
			if !g.In[i].Borrowed {
				st = append(st, a)
			}
		}

		return st
	}

	return ir.Stolen(op)
}

// checkCalls resolves every call site up front: stealing follows the
// callee signature, so an unresolved or mis-arity call cannot be
// lowered correctly.
func checkCalls(f *ir.Func, sigs map[string]*ir.Func) error {
	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			c, ok := op.(ir.Call)
			if !ok {
				continue
			}

			g := sigs[c.Func]
			if g == nil {
				return errors.New("call of unknown function: %v", c.Func)
			}

			if len(c.Args) != len(g.In) {
				return errors.New("call %v: want %v args, have %v", c.Func, len(g.In), len(c.Args))
			}
		}
	}

	return nil
}

func contains(s []ir.Reg, r ir.Reg) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}

	return false
}
