package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/irfile"
	"github.com/brisklang/brisk/compiler/tp"
	"github.com/brisklang/brisk/compiler/vm"
)

// Full pipeline over a fixture: load, lower, execute, audit the heap.
func TestLowerAndRun(t *testing.T) {
	p, err := irfile.Load("testdata/pair.yaml")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Lower(ctx, p))

	res, heap, err := vm.Exec(ctx, p, "sum", []vm.Value{vm.Int(2), vm.Int(3)})
	require.NoError(t, err)

	assert.Equal(t, vm.Int(5), res)

	require.NoError(t, heap.Release(res))
	require.NoError(t, heap.Check())
}

// The fixture's pick function assigns on one arm only: the lowered form
// returns the value when it was assigned and faults when it was not.
func TestLowerGuardsUnbound(t *testing.T) {
	p, err := irfile.Load("testdata/pair.yaml")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Lower(ctx, p))

	res, heap, err := vm.Exec(ctx, p, "pick", []vm.Value{vm.Bool(true)})
	require.NoError(t, err)

	assert.Equal(t, vm.Int(9), res)
	require.NoError(t, heap.Release(res))
	require.NoError(t, heap.Check())

	_, heap, err = vm.Exec(ctx, p, "pick", []vm.Value{vm.Bool(false)})
	require.Error(t, err)

	var fault vm.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, vm.FaultUnbound, fault.Kind)

	require.NoError(t, heap.Check())
}

func TestLowerRejectsMalformed(t *testing.T) {
	reg := cls.NewRegistry()

	b := ir.NewBuilder("bad", tp.Void{})

	n := b.Arg("n", tp.Int, false)
	o := b.Reg("o", tp.Any{})
	b.Add(ir.Assign{D: o, S: n})
	b.Ret(ir.None)

	p := &ir.Package{Path: "badtest", Classes: reg, Funcs: []*ir.Func{b.Fn()}}

	err := Lower(context.Background(), p)
	require.Error(t, err)

	assert.ErrorContains(t, err, "verify")
}
