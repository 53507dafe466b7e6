package df

import (
	"nikand.dev/go/heap"

	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/set"
)

type (
	RegSet = set.Bits[ir.Reg]

	// Analysis is a gen/kill dataflow problem over registers.
	//
	// GenKill is called with either an ir.Op or an ir.Term.
	Analysis struct {
		Backward bool

		// May joins with union at merges, otherwise intersection.
		May bool

		// Init is the boundary fact: function entry for forward
		// analyses, every exit for backward ones.
		Init RegSet

		GenKill func(x any, gen, kill *RegSet)
	}

	// Result holds facts at every program point of every reachable block.
	// Point i < len(ops) is op i; point len(ops) is the terminator.
	Result struct {
		// Before[b][i] is the fact in execution order just before point i,
		// After[b][i] just after it, regardless of analysis direction.
		Before [][]RegSet
		After  [][]RegSet
	}

	blockOrder struct {
		idx []int // block -> priority
	}
)

// Run computes the analysis to a fixed point over the reachable CFG.
func Run(f *ir.Func, a Analysis) *Result {
	reach := ir.Reachable(f)

	prio := make([]int, len(f.Blocks))
	for i, b := range reach {
		if a.Backward {
			prio[b] = len(reach) - i
		} else {
			prio[b] = i
		}
	}

	preds := make([][]ir.BlockID, len(f.Blocks))

	for _, b := range reach {
		for _, s := range f.Blocks[b].Term.Succs() {
			preds[s] = append(preds[s], b)
		}
	}

	// in and out are in analysis direction: in is joined from upstream,
	// out is in after the block transfer.
	in := make([]RegSet, len(f.Blocks))
	out := make([]RegSet, len(f.Blocks))
	known := make([]bool, len(f.Blocks))

	q := heap.Heap[ir.BlockID]{
		Less: func(d []ir.BlockID, i, j int) bool { return prio[d[i]] < prio[d[j]] },
	}
	queued := set.Make[ir.BlockID](len(f.Blocks))

	push := func(b ir.BlockID) {
		if queued.IsSet(b) {
			return
		}

		queued.Set(b)
		q.Push(b)
	}

	for _, b := range reach {
		push(b)
	}

	upstream := func(b ir.BlockID) []ir.BlockID {
		if a.Backward {
			return f.Blocks[b].Term.Succs()
		}

		return preds[b]
	}

	downstream := func(b ir.BlockID) []ir.BlockID {
		if a.Backward {
			return preds[b]
		}

		return f.Blocks[b].Term.Succs()
	}

	boundary := func(b ir.BlockID) bool {
		if a.Backward {
			return len(f.Blocks[b].Term.Succs()) == 0
		}

		return b == 0
	}

	for q.Len() != 0 {
		b := q.Pop()
		queued.Clear(b)

		x := set.Make[ir.Reg](len(f.Regs))

		first := true

		if boundary(b) {
			x.Merge(a.Init)
			first = false
		}

		for _, u := range upstream(b) {
			if !known[u] {
				// unreached yet: top for must analyses, bottom for may
				continue
			}

			if first {
				x.Merge(out[u])
				first = false

				continue
			}

			if a.May {
				x.Merge(out[u])
			} else {
				x.Intersect(out[u])
			}
		}

		in[b] = x

		o := transferBlock(f, f.Blocks[b], x.Copy(), a)

		if known[b] && o.Equal(out[b]) {
			continue
		}

		known[b] = true
		out[b] = o

		for _, d := range downstream(b) {
			push(d)
		}
	}

	return fill(f, reach, in, a)
}

// transferBlock applies gen/kill through the whole block in the analysis
// direction and returns the resulting fact.
func transferBlock(f *ir.Func, blk *ir.Block, x RegSet, a Analysis) RegSet {
	gen := set.Make[ir.Reg](len(f.Regs))
	kill := set.Make[ir.Reg](len(f.Regs))

	apply := func(p any) {
		gen.Reset()
		kill.Reset()

		a.GenKill(p, &gen, &kill)

		x.Subtract(kill)
		x.Merge(gen)
	}

	if a.Backward {
		apply(blk.Term)

		for i := len(blk.Ops) - 1; i >= 0; i-- {
			apply(blk.Ops[i])
		}
	} else {
		for _, op := range blk.Ops {
			apply(op)
		}

		apply(blk.Term)
	}

	return x
}

// fill recomputes per-point facts from the converged block facts.
func fill(f *ir.Func, reach []ir.BlockID, in []RegSet, a Analysis) *Result {
	res := &Result{
		Before: make([][]RegSet, len(f.Blocks)),
		After:  make([][]RegSet, len(f.Blocks)),
	}

	gen := set.Make[ir.Reg](len(f.Regs))
	kill := set.Make[ir.Reg](len(f.Regs))

	for _, b := range reach {
		blk := f.Blocks[b]
		n := len(blk.Ops) + 1

		res.Before[b] = make([]RegSet, n)
		res.After[b] = make([]RegSet, n)

		x := in[b].Copy()

		step := func(i int, p any) {
			gen.Reset()
			kill.Reset()

			a.GenKill(p, &gen, &kill)

			if a.Backward {
				res.After[b][i] = x.Copy()
			} else {
				res.Before[b][i] = x.Copy()
			}

			x.Subtract(kill)
			x.Merge(gen)

			if a.Backward {
				res.Before[b][i] = x.Copy()
			} else {
				res.After[b][i] = x.Copy()
			}
		}

		if a.Backward {
			step(n-1, blk.Term)

			for i := len(blk.Ops) - 1; i >= 0; i-- {
				step(i, blk.Ops[i])
			}
		} else {
			for i, op := range blk.Ops {
				step(i, op)
			}

			step(n-1, blk.Term)
		}
	}

	return res
}
