package ir

import (
	"fmt"

	"tlog.app/go/loc"

	"github.com/brisklang/brisk/compiler/tp"
)

// Builder assembles one function block by block.
//
// Exactly one block is active at a time; ops are appended to it until a
// control transfer finishes it. Adding to a finished block or activating
// one while the current is unfinished is a construction bug and panics.
type Builder struct {
	f *Func

	cur *Block
}

func NewBuilder(name string, ret tp.Type) *Builder {
	b := &Builder{
		f: &Func{
			Name: name,
			Ret:  ret,
		},
	}

	entry := b.Block()
	b.Activate(entry)

	return b
}

// Arg declares a function parameter register.
func (b *Builder) Arg(name string, t tp.Type, borrowed bool) Reg {
	r := b.Reg(name, t)

	b.f.In = append(b.f.In, Param{Reg: r, Name: name, Type: t, Borrowed: borrowed})

	return r
}

// Reg declares a register. Temporaries pass "".
func (b *Builder) Reg(name string, t tp.Type) Reg {
	r := Reg(len(b.f.Regs))

	b.f.Regs = append(b.f.Regs, RegInfo{Name: name, Type: t})

	return r
}

// Block creates a new block without activating it.
func (b *Builder) Block() BlockID {
	id := BlockID(len(b.f.Blocks))

	b.f.Blocks = append(b.f.Blocks, &Block{
		ID:   id,
		From: loc.Caller(1),
	})

	return id
}

// Activate makes a block the target of subsequent adds.
func (b *Builder) Activate(id BlockID) {
	if b.cur != nil && b.cur.Term == nil {
		panic(fmt.Sprintf("func %v: activating b%d over unfinished b%d", b.f.Name, id, b.cur.ID))
	}

	b.cur = b.f.Blocks[id]
}

// Add appends an op to the active block.
func (b *Builder) Add(op Op) {
	if b.cur.Term != nil {
		panic(fmt.Sprintf("func %v: add to finished block b%d: %T", b.f.Name, b.cur.ID, op))
	}

	b.cur.Ops = append(b.cur.Ops, op)
}

// Goto finishes the active block with a jump, unless already finished.
func (b *Builder) Goto(to BlockID) {
	if b.cur.Term == nil {
		b.cur.Term = Goto{To: to}
	}
}

// GotoActivate jumps to a block and activates it.
func (b *Builder) GotoActivate(id BlockID) {
	b.Goto(id)
	b.Activate(id)
}

func (b *Builder) Branch(cond Reg, then, els BlockID) {
	b.term(Branch{Cond: cond, Then: then, Else: els})
}

func (b *Builder) BranchErr(cond Reg, then, els BlockID) {
	b.term(Branch{Cond: cond, Then: then, Else: els, IsErr: true})
}

func (b *Builder) Ret(r Reg) {
	b.term(Ret{S: r})
}

func (b *Builder) Unreachable() {
	b.term(Unreachable{})
}

func (b *Builder) term(t Term) {
	if b.cur.Term != nil {
		panic(fmt.Sprintf("func %v: double terminator in b%d", b.f.Name, b.cur.ID))
	}

	b.cur.Term = t
}

// TypeOf returns the declared type of a register.
func (b *Builder) TypeOf(r Reg) tp.Type { return b.f.TypeOf(r) }

// Coerce converts src to type to, emitting ops only when the
// representation changes. Boxing always yields a fresh owned heap value;
// unboxing consumes its operand; narrowing between boxed forms is a
// checked cast.
func (b *Builder) Coerce(src Reg, to tp.Type) Reg {
	from := b.TypeOf(src)

	switch {
	case tp.Same(from, to):
		return src
	case tp.Unboxed(from) && !tp.Unboxed(to):
		d := b.Reg("", to)
		b.Add(Box{D: d, S: src})

		return d
	case !tp.Unboxed(from) && tp.Unboxed(to):
		d := b.Reg("", to)
		b.Add(Unbox{D: d, S: src})

		return d
	case !tp.Unboxed(from) && !tp.Unboxed(to):
		d := b.Reg("", to)
		b.Add(Cast{D: d, S: src})

		return d
	default:
		// unboxed-to-unboxed goes through the boxed form
		box := b.Reg("", tp.Any{})
		b.Add(Box{D: box, S: src})

		d := b.Reg("", to)
		b.Add(Unbox{D: d, S: box})

		return d
	}
}

// Fn finalizes the function. Every created block must be finished.
func (b *Builder) Fn() *Func {
	for _, blk := range b.f.Blocks {
		if blk.Term == nil {
			panic(fmt.Sprintf("func %v: unfinished block b%d (from %v)", b.f.Name, blk.ID, blk.From))
		}
	}

	return b.f
}
