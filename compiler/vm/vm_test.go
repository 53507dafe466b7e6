package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/tp"
)

func testRegistry(t *testing.T) *cls.Registry {
	reg := cls.NewRegistry()

	require.NoError(t, reg.AddClass(&cls.Class{
		Name:   "B",
		Fields: []cls.Field{{Name: "val", Type: tp.Int}},
	}))
	require.NoError(t, reg.AddClass(&cls.Class{
		Name:   "A",
		Fields: []cls.Field{{Name: "next", Type: tp.Object{Class: "B"}}},
	}))

	return reg
}

func pkg(reg *cls.Registry, fs ...*ir.Func) *ir.Package {
	return &ir.Package{Path: "vmtest", Classes: reg, Funcs: fs}
}

func TestExecArithmetic(t *testing.T) {
	b := ir.NewBuilder("calc", tp.Int)

	x := b.Arg("x", tp.Int, false)
	y := b.Arg("y", tp.Int, false)
	s := b.Reg("s", tp.Int)
	m := b.Reg("m", tp.Int)
	d := b.Reg("d", tp.Int)

	b.Add(ir.Add{D: s, L: x, R: y})
	b.Add(ir.Mul{D: m, L: s, R: x})
	b.Add(ir.Sub{D: d, L: m, R: y})
	b.Ret(d)

	p := pkg(testRegistry(t), b.Fn())

	res, heap, err := Exec(context.Background(), p, "calc", []Value{Int(3), Int(4)})
	require.NoError(t, err)

	assert.Equal(t, Int(17), res)
	require.NoError(t, heap.Check())
}

func TestExecCmp(t *testing.T) {
	for _, tc := range []struct {
		cond ir.Cond
		want bool
	}{
		{ir.Eq, false},
		{ir.Ne, true},
		{ir.Lt, true},
		{ir.Le, true},
		{ir.Gt, false},
		{ir.Ge, false},
	} {
		b := ir.NewBuilder("cmp", tp.Bool)

		x := b.Arg("x", tp.Int, false)
		y := b.Arg("y", tp.Int, false)
		c := b.Reg("c", tp.Bool)

		b.Add(ir.Cmp{D: c, L: x, R: y, Cond: tc.cond})
		b.Ret(c)

		p := pkg(testRegistry(t), b.Fn())

		res, _, err := Exec(context.Background(), p, "cmp", []Value{Int(2), Int(3)})
		require.NoError(t, err)

		assert.Equal(t, Bool(tc.want), res, "cond %v", tc.cond)
	}
}

func TestExecCall(t *testing.T) {
	cb := ir.NewBuilder("inc", tp.Int)

	n := cb.Arg("n", tp.Int, false)
	one := cb.Reg("one", tp.Int)
	d := cb.Reg("d", tp.Int)

	cb.Add(ir.LoadInt{D: one, Val: 1})
	cb.Add(ir.Add{D: d, L: n, R: one})
	cb.Ret(d)

	mb := ir.NewBuilder("main", tp.Int)

	x := mb.Reg("x", tp.Int)
	r := mb.Reg("r", tp.Int)

	mb.Add(ir.LoadInt{D: x, Val: 41})
	mb.Add(ir.Call{D: r, Func: "inc", Args: []ir.Reg{x}})
	mb.Ret(r)

	p := pkg(testRegistry(t), cb.Fn(), mb.Fn())

	res, heap, err := Exec(context.Background(), p, "main", nil)
	require.NoError(t, err)

	assert.Equal(t, Int(42), res)
	require.NoError(t, heap.Check())
}

// A call with no result register discards the callee's value.
func TestExecVoidCall(t *testing.T) {
	cb := ir.NewBuilder("noop", tp.Void{})
	cb.Ret(ir.None)

	mb := ir.NewBuilder("main", tp.Int)

	r := mb.Reg("r", tp.Int)

	mb.Add(ir.Call{D: ir.None, Func: "noop"})
	mb.Add(ir.LoadInt{D: r, Val: 1})
	mb.Ret(r)

	p := pkg(testRegistry(t), cb.Fn(), mb.Fn())

	res, heap, err := Exec(context.Background(), p, "main", nil)
	require.NoError(t, err)

	assert.Equal(t, Int(1), res)
	require.NoError(t, heap.Check())
}

// An allocation nobody releases survives the run and fails the audit.
func TestLeakDetected(t *testing.T) {
	b := ir.NewBuilder("leaky", tp.Void{})

	x := b.Reg("x", tp.Object{Class: "B"})
	b.Add(ir.New{D: x, Class: "B"})
	b.Ret(ir.None)

	p := pkg(testRegistry(t), b.Fn())

	_, heap, err := Exec(context.Background(), p, "leaky", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, heap.Live())
	assert.ErrorContains(t, heap.Check(), "leak")
}

func TestDoubleRelease(t *testing.T) {
	b := ir.NewBuilder("dbl", tp.Void{})

	x := b.Reg("x", tp.Object{Class: "B"})
	b.Add(ir.New{D: x, Class: "B"})
	b.Add(ir.DecRef{S: x})
	b.Add(ir.DecRef{S: x})
	b.Ret(ir.None)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "dbl", nil)
	assert.ErrorContains(t, err, "double release")
}

func TestUseAfterRelease(t *testing.T) {
	b := ir.NewBuilder("uaf", tp.Int)

	x := b.Reg("x", tp.Object{Class: "B"})
	d := b.Reg("d", tp.Int)

	b.Add(ir.New{D: x, Class: "B"})
	b.Add(ir.DecRef{S: x})
	b.Add(ir.GetField{D: d, Obj: x, Field: "val"})
	b.Ret(d)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "uaf", nil)
	assert.ErrorContains(t, err, "use after release")
}

// Releasing an inner object still referenced from a released outer one
// is the cascade's job, doing it by hand corrupts the heap.
func TestCascadeRelease(t *testing.T) {
	b := ir.NewBuilder("tree", tp.Void{})

	va := b.Reg("va", tp.Object{Class: "A"})
	vb := b.Reg("vb", tp.Object{Class: "B"})

	b.Add(ir.New{D: va, Class: "A"})
	b.Add(ir.New{D: vb, Class: "B"})
	b.Add(ir.SetField{Obj: va, Field: "next", S: vb})
	b.Add(ir.DecRef{S: va})
	b.Ret(ir.None)

	p := pkg(testRegistry(t), b.Fn())

	_, heap, err := Exec(context.Background(), p, "tree", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, heap.Live())
	require.NoError(t, heap.Check())
}

func TestIndexFault(t *testing.T) {
	b := ir.NewBuilder("oob", tp.Any{})

	n := b.Reg("n", tp.Int)
	e := b.Reg("e", tp.Any{})
	s := b.Reg("s", tp.Seq{Elem: tp.Any{}})
	i := b.Reg("i", tp.Int)
	d := b.Reg("d", tp.Any{})

	b.Add(ir.LoadInt{D: n, Val: 1})
	b.Add(ir.Box{D: e, S: n})
	b.Add(ir.NewSeq{D: s, Elems: []ir.Reg{e}})
	b.Add(ir.LoadInt{D: i, Val: 5})
	b.Add(ir.GetElem{D: d, Seq: s, Index: i})
	b.Ret(d)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "oob", nil)
	require.Error(t, err)

	var fault Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultIndex, fault.Kind)
}

func TestCastFault(t *testing.T) {
	b := ir.NewBuilder("bad", tp.Object{Class: "B"})

	a := b.Reg("a", tp.Object{Class: "A"})
	d := b.Reg("d", tp.Object{Class: "B"})

	b.Add(ir.New{D: a, Class: "A"})
	b.Add(ir.Cast{D: d, S: a})
	b.Ret(d)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "bad", nil)
	require.Error(t, err)

	var fault Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultCast, fault.Kind)
}

func TestDynGetFault(t *testing.T) {
	b := ir.NewBuilder("nomember", tp.Any{})

	x := b.Reg("x", tp.Object{Class: "B"})
	d := b.Reg("d", tp.Any{})

	b.Add(ir.New{D: x, Class: "B"})
	b.Add(ir.DynGet{D: d, Obj: x, Name: "nope"})
	b.Ret(d)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "nomember", nil)
	require.Error(t, err)

	var fault Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultMember, fault.Kind)
}

// Plain release of a possibly unbound register is corruption, the safe
// form skips the sentinel.
func TestSafeRelease(t *testing.T) {
	mk := func(safe bool) *ir.Func {
		b := ir.NewBuilder("rel", tp.Void{})

		x := b.Reg("x", tp.Object{Class: "B"})
		b.Add(ir.LoadErr{D: x})
		b.Add(ir.DecRef{S: x, Safe: safe})
		b.Ret(ir.None)

		return b.Fn()
	}

	p := pkg(testRegistry(t), mk(true))

	_, _, err := Exec(context.Background(), p, "rel", nil)
	assert.NoError(t, err)

	p = pkg(testRegistry(t), mk(false))

	_, _, err = Exec(context.Background(), p, "rel", nil)
	assert.ErrorContains(t, err, "release of unbound")
}

// The none sentinel is immortal: boxing it allocates nothing and it
// unboxes to itself.
func TestNoneBoxIdentity(t *testing.T) {
	b := ir.NewBuilder("nn", tp.Any{})

	n := b.Reg("n", tp.None{})
	e := b.Reg("e", tp.Any{})

	b.Add(ir.LoadNone{D: n})
	b.Add(ir.Box{D: e, S: n})
	b.Ret(e)

	p := pkg(testRegistry(t), b.Fn())

	res, heap, err := Exec(context.Background(), p, "nn", nil)
	require.NoError(t, err)

	assert.Equal(t, KindNone, res.Kind)
	assert.Equal(t, 0, heap.Live())
	require.NoError(t, heap.Check())
}

func TestUnboundCheck(t *testing.T) {
	b := ir.NewBuilder("chk", tp.Void{})

	x := b.Reg("x", tp.Object{Class: "B"})
	b.Add(ir.LoadErr{D: x})
	b.Add(ir.CheckBound{S: x, Name: "x"})
	b.Ret(ir.None)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "chk", nil)
	require.Error(t, err)

	var fault Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultUnbound, fault.Kind)
	assert.Equal(t, "x", fault.Msg)
}

func TestStepLimit(t *testing.T) {
	b := ir.NewBuilder("spin", tp.Void{})

	n := b.Reg("n", tp.Int)

	loop := b.Block()
	b.Goto(loop)

	b.Activate(loop)
	b.Add(ir.LoadInt{D: n, Val: 0})
	b.Goto(loop)

	p := pkg(testRegistry(t), b.Fn())

	_, _, err := Exec(context.Background(), p, "spin", nil)
	assert.ErrorContains(t, err, "step limit")
}
