package rc

import (
	"sort"

	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/tp"
)

type (
	use struct {
		block ir.BlockID
		idx   int // len(ops) means the terminator
	}

	borrowState struct {
		f *ir.Func

		defs []int   // reg -> number of definitions
		uses [][]use // reg -> use points
	}
)

// upgradeBorrows rewrites eligible projection ops (field reads, literal
// in-range element reads, narrowing casts, trait member reads) into
// zero-cost borrows.
//
// A projection is upgraded only when its result is a single-definition
// temporary whose every use stays inside the defining block, with the
// borrow root neither redefined nor stored into across the span. The
// root is pinned with a keepalive after the view's last use, so the
// later release lands behind the whole borrow span. A view whose source is itself a view borrows from the
// chain root directly. There are no suspension points in this IR, so the
// suspension restriction is vacuous.
func upgradeBorrows(f *ir.Func) {
	st := &borrowState{
		f:    f,
		defs: make([]int, len(f.Regs)),
		uses: make([][]use, len(f.Regs)),
	}

	for _, p := range f.In {
		st.defs[p.Reg]++
	}

	for _, blk := range f.Blocks {
		for i, op := range blk.Ops {
			if d := op.Dst(); d != ir.None {
				st.defs[d]++
			}

			for _, s := range op.Sources() {
				st.uses[s] = append(st.uses[s], use{block: blk.ID, idx: i})
			}
		}

		for _, s := range blk.Term.TermSources() {
			st.uses[s] = append(st.uses[s], use{block: blk.ID, idx: len(blk.Ops)})
		}
	}

	for _, blk := range f.Blocks {
		st.upgradeBlock(blk)
	}
}

func (st *borrowState) upgradeBlock(blk *ir.Block) {
	// root -> position past the last use of its latest view
	pins := map[ir.Reg]int{}

	// ascending, so a chained projection sees the inner one
	// already marked and chases through it to the root
	for i, op := range blk.Ops {

		src, ok := ir.Projection(op)
		if !ok {
			continue
		}

		d := op.Dst()
		if !tp.Refcounted(st.f.TypeOf(d)) || !tp.Refcounted(st.f.TypeOf(src)) {
			continue
		}

		if st.defs[d] != 1 {
			continue
		}

		last, ok := st.lastUseInBlock(d, blk, i)
		if !ok {
			continue
		}

		if ge, ok := op.(ir.GetElem); ok && !st.literalIndex(blk, i, ge.Index) {
			continue
		}

		root := st.chaseRoot(blk, i, src)

		if st.redefined(blk, root, i, last) || st.mutated(blk, root, i, last) {
			continue
		}

		switch x := op.(type) {
		case ir.GetField:
			x.Borrow = true
			blk.Ops[i] = x
		case ir.GetElem:
			x.Borrow = true
			blk.Ops[i] = x
		case ir.Cast:
			x.Borrow = true
			blk.Ops[i] = x
		case ir.TraitGet:
			x.Borrow = true
			blk.Ops[i] = x
		}

		if pins[root] < last+1 {
			pins[root] = last + 1
		}
	}

	if len(pins) == 0 {
		return
	}

	type pin struct {
		pos  int
		root ir.Reg
	}

	ordered := make([]pin, 0, len(pins))
	for root, pos := range pins {
		ordered = append(ordered, pin{pos: pos, root: root})
	}

	// highest position first keeps earlier indexes valid
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pos > ordered[j].pos })

	for _, p := range ordered {
		ops := make([]ir.Op, 0, len(blk.Ops)+1)
		ops = append(ops, blk.Ops[:p.pos]...)
		ops = append(ops, ir.KeepAlive{Regs: []ir.Reg{p.root}})
		ops = append(ops, blk.Ops[p.pos:]...)

		blk.Ops = ops
	}
}

// lastUseInBlock returns the index of the last use of r, requiring every
// use to sit in blk after the defining op.
func (st *borrowState) lastUseInBlock(r ir.Reg, blk *ir.Block, def int) (last int, ok bool) {
	if len(st.uses[r]) == 0 {
		return 0, false
	}

	last = -1

	for _, u := range st.uses[r] {
		if u.block != blk.ID || u.idx <= def || u.idx == len(blk.Ops) {
			return 0, false
		}

		if u.idx > last {
			last = u.idx
		}
	}

	return last, true
}

// chaseRoot collapses borrow-of-borrow to borrow-of-root.
func (st *borrowState) chaseRoot(blk *ir.Block, below int, src ir.Reg) ir.Reg {
	for j := below - 1; j >= 0; j-- {
		op := blk.Ops[j]

		if op.Dst() != src {
			continue
		}

		if _, ok := ir.BorrowedView(op); !ok {
			return src
		}

		src, _ = ir.Projection(op)
	}

	return src
}

// mutated reports a store into the borrowed-from object inside the
// span. The store may release the referent the view still points at, so
// the view has to hold its own reference.
func (st *borrowState) mutated(blk *ir.Block, root ir.Reg, from, to int) bool {
	for j := from + 1; j <= to && j < len(blk.Ops); j++ {
		var obj ir.Reg

		switch x := blk.Ops[j].(type) {
		case ir.SetField:
			obj = x.Obj
		case ir.SetElem:
			obj = x.Seq
		default:
			continue
		}

		if obj == root || st.chaseRoot(blk, j, obj) == root {
			return true
		}
	}

	return false
}

func (st *borrowState) redefined(blk *ir.Block, r ir.Reg, from, to int) bool {
	for j := from + 1; j <= to && j < len(blk.Ops); j++ {
		if blk.Ops[j].Dst() == r {
			return true
		}
	}

	return false
}

// literalIndex reports whether the index register is defined in this
// block, before the access, by a non-negative integer literal. Anything
// else cannot be proven in range and keeps the owned, bounds-checked path.
func (st *borrowState) literalIndex(blk *ir.Block, at int, index ir.Reg) bool {
	for j := at - 1; j >= 0; j-- {
		op := blk.Ops[j]

		if op.Dst() != index {
			continue
		}

		li, ok := op.(ir.LoadInt)

		return ok && li.Val >= 0
	}

	return false
}
