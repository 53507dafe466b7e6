package df

import (
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/set"
)

// Liveness computes, for every point, the registers whose current value
// may still be read downstream. Backward may analysis.
func Liveness(f *ir.Func) *Result {
	return Run(f, Analysis{
		Backward: true,
		May:      true,
		GenKill: func(x any, gen, kill *RegSet) {
			switch x := x.(type) {
			case ir.Op:
				if d := x.Dst(); d != ir.None {
					kill.Set(d)
				}

				for _, s := range x.Sources() {
					gen.Set(s)
				}
			case ir.Term:
				for _, s := range x.TermSources() {
					gen.Set(s)
				}
			}
		},
	})
}

// MustAssigned computes the registers certainly holding a proper value.
// The unbound-sentinel initialization does not count as an assignment.
// Forward must analysis; arguments are assigned at entry.
func MustAssigned(f *ir.Func) *Result {
	return Run(f, assigned(f, false))
}

// MaybeAssigned computes the registers possibly holding a proper value on
// some path. Forward may analysis.
func MaybeAssigned(f *ir.Func) *Result {
	return Run(f, assigned(f, true))
}

func assigned(f *ir.Func, may bool) Analysis {
	init := set.Make[ir.Reg](len(f.Regs))

	for _, p := range f.In {
		init.Set(p.Reg)
	}

	return Analysis{
		May:  may,
		Init: init,
		GenKill: func(x any, gen, kill *RegSet) {
			op, ok := x.(ir.Op)
			if !ok {
				return
			}

			if _, isErr := op.(ir.LoadErr); isErr {
				return
			}

			if d := op.Dst(); d != ir.None {
				gen.Set(d)
			}
		},
	}
}
