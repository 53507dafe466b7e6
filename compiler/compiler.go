package compiler

import (
	"context"
	"sync"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/rc"
)

// Lower makes a verified package safe to execute: it runs the ownership
// pass over every function and verifies the result. Functions share no
// state, so they are lowered concurrently.
func Lower(ctx context.Context, p *ir.Package) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower package", "name", p.Path)
	defer tr.Finish("err", &err)

	err = ir.Verify(p)
	if err != nil {
		return errors.Wrap(err, "verify")
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)

	for _, f := range p.Funcs {
		f := f

		wg.Add(1)

		go func() {
			defer wg.Done()

			e := rc.InsertFunc(ctx, p, f)
			if e == nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if first == nil {
				first = errors.Wrap(e, "func %v", f.Name)
			}
		}()
	}

	wg.Wait()

	if first != nil {
		return first
	}

	err = ir.Verify(p)
	if err != nil {
		return errors.Wrap(err, "verify lowered")
	}

	return nil
}
