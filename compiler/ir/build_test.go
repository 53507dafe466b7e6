package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisklang/brisk/compiler/tp"
)

func TestBuilderStraightLine(t *testing.T) {
	b := NewBuilder("twice", tp.Int)
	n := b.Arg("n", tp.Int, false)
	d := b.Reg("d", tp.Int)

	b.Add(Add{D: d, L: n, R: n})
	b.Ret(d)

	f := b.Fn()

	require.Len(t, f.Blocks, 1)
	assert.Equal(t, Ret{S: d}, f.Entry().Term)

	assert.Equal(t, ""+
		"func twice(n: int) -> int\n"+
		"b0:\n"+
		"    d = n + n\n"+
		"    ret d\n",
		string(AppendFunc(nil, f)))
}

func TestBuilderBranch(t *testing.T) {
	b := NewBuilder("max", tp.Int)
	x := b.Arg("x", tp.Int, false)
	y := b.Arg("y", tp.Int, false)

	c := b.Reg("", tp.Bool)
	b.Add(Cmp{D: c, L: x, R: y, Cond: Gt})

	then, els := b.Block(), b.Block()
	b.Branch(c, then, els)

	b.Activate(then)
	b.Ret(x)

	b.Activate(els)
	b.Ret(y)

	f := b.Fn()

	assert.Equal(t, ""+
		"func max(x: int, y: int) -> int\n"+
		"b0:\n"+
		"    r2 = x > y\n"+
		"    if r2 goto b1 else b2\n"+
		"b1:\n"+
		"    ret x\n"+
		"b2:\n"+
		"    ret y\n",
		string(AppendFunc(nil, f)))
}

func TestBuilderGotoIsIdempotent(t *testing.T) {
	b := NewBuilder("f", tp.Void{})

	exit := b.Block()
	b.Ret(None)

	// already finished: a fallthrough jump must not replace the return
	b.Goto(exit)

	b.Activate(exit)
	b.Ret(None)

	f := b.Fn()

	assert.Equal(t, Ret{S: None}, f.Entry().Term)
}

func TestBuilderPanics(t *testing.T) {
	b := NewBuilder("f", tp.Void{})
	b.Ret(None)

	assert.Panics(t, func() { b.Add(LoadInt{D: 0, Val: 1}) })
	assert.Panics(t, func() { b.Ret(None) })

	b2 := NewBuilder("g", tp.Void{})
	blk := b2.Block()

	// entry is active and unfinished
	assert.Panics(t, func() { b2.Activate(blk) })

	b3 := NewBuilder("h", tp.Void{})
	b3.Block()
	b3.Ret(None)

	assert.Panics(t, func() { b3.Fn() })
}

func TestCoerce(t *testing.T) {
	b := NewBuilder("f", tp.Void{})

	n := b.Arg("n", tp.Int, false)
	o := b.Arg("o", tp.Object{Class: "A"}, false)

	assert.Equal(t, n, b.Coerce(n, tp.Int))

	boxed := b.Coerce(n, tp.Any{})
	assert.Equal(t, Box{D: boxed, S: n}, b.f.Blocks[0].Ops[0])

	back := b.Coerce(boxed, tp.Int)
	assert.Equal(t, Unbox{D: back, S: boxed}, b.f.Blocks[0].Ops[1])

	wide := b.Coerce(o, tp.Any{})
	assert.Equal(t, Cast{D: wide, S: o}, b.f.Blocks[0].Ops[2])

	// unboxed to unboxed runs through the boxed form
	w := b.Coerce(n, tp.I64)
	ops := b.f.Blocks[0].Ops
	require.Len(t, ops, 5)
	assert.IsType(t, Box{}, ops[3])
	assert.Equal(t, Unbox{D: w, S: ops[3].Dst()}, ops[4])
}

func TestReachable(t *testing.T) {
	b := NewBuilder("f", tp.Void{})

	dead := b.Block()
	b.Ret(None)

	b.Activate(dead)
	b.Ret(None)

	f := b.Fn()

	assert.Equal(t, []BlockID{0}, Reachable(f))
}
