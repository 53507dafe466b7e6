package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/brisklang/brisk/compiler"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/irfile"
	"github.com/brisklang/brisk/compiler/vm"
)

func main() {
	dumpCmd := &cli.Command{
		Name:   "dump",
		Action: dumpAct,
		Args:   cli.Args{},
	}

	lowerCmd := &cli.Command{
		Name:   "lower",
		Action: lowerAct,
		Args:   cli.Args{},
	}

	runCmd := &cli.Command{
		Name:   "run",
		Action: runAct,
		Args:   cli.Args{},
	}

	app := &cli.Command{
		Name:        "brisk",
		Description: "brisk is a tool for working with brisk ir packages",
		Commands: []*cli.Command{
			dumpCmd,
			lowerCmd,
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func dumpAct(c *cli.Command) (err error) {
	for _, a := range c.Args {
		p, err := irfile.Load(a)
		if err != nil {
			return errors.Wrap(err, "load %v", a)
		}

		printPkg(p)
	}

	return nil
}

func lowerAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		p, err := irfile.Load(a)
		if err != nil {
			return errors.Wrap(err, "load %v", a)
		}

		err = compiler.Lower(ctx, p)
		if err != nil {
			return errors.Wrap(err, "lower %v", a)
		}

		printPkg(p)
	}

	return nil
}

// run lowers a package and executes one function on the auditing vm:
// brisk run file.yaml func [int args...]
func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) < 2 {
		return errors.New("usage: run file func [args...]")
	}

	p, err := irfile.Load(c.Args[0])
	if err != nil {
		return errors.Wrap(err, "load %v", c.Args[0])
	}

	err = compiler.Lower(ctx, p)
	if err != nil {
		return errors.Wrap(err, "lower %v", c.Args[0])
	}

	var args []vm.Value

	for _, a := range c.Args[2:] {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return errors.Wrap(err, "arg %v", a)
		}

		args = append(args, vm.Int(v))
	}

	res, heap, err := vm.Exec(ctx, p, c.Args[1], args)
	if err != nil {
		return errors.Wrap(err, "exec %v", c.Args[1])
	}

	fmt.Printf("result: %v\n", format(res))

	err = heap.Release(res)
	if err != nil {
		return errors.Wrap(err, "release result")
	}

	err = heap.Check()
	if err != nil {
		return errors.Wrap(err, "heap audit")
	}

	fmt.Printf("heap: %v objects, all released\n", len(heap.Objects))

	return nil
}

func printPkg(p *ir.Package) {
	var b []byte

	for _, f := range p.Funcs {
		b = ir.AppendFunc(b, f)
		b = append(b, '\n')
	}

	os.Stdout.Write(b)
}

func format(v vm.Value) string {
	switch v.Kind {
	case vm.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case vm.KindBool:
		return strconv.FormatBool(v.Int != 0)
	case vm.KindNone:
		return "none"
	case vm.KindErr:
		return "unbound"
	case vm.KindObj:
		return fmt.Sprintf("object #%d %v", v.Obj.ID, v.Obj.Class)
	}

	return "?"
}
