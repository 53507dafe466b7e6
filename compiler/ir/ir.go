package ir

import (
	"tlog.app/go/loc"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/tp"
)

type (
	// Reg is a virtual register, scoped to one function.
	// Registers are mutable: a register may be written more than once,
	// which is exactly what the ownership pass has to untangle.
	Reg int32

	// BlockID indexes Func.Blocks.
	BlockID int32

	// Cond selects the comparison Cmp performs.
	Cond string

	Param struct {
		Reg  Reg
		Name string
		Type tp.Type

		// Borrowed arguments stay owned by the caller for the whole call.
		Borrowed bool
	}

	RegInfo struct {
		Name string
		Type tp.Type
	}

	Func struct {
		Name string

		In  []Param
		Ret tp.Type

		Regs   []RegInfo
		Blocks []*Block
	}

	Block struct {
		ID BlockID

		Ops  []Op
		Term Term

		From loc.PC `tlog:",omitempty"`
	}

	Package struct {
		Path string

		Classes *cls.Registry
		Funcs   []*Func
	}

	// Op is a non-terminator instruction.
	Op interface {
		Sources() []Reg
		Dst() Reg // None if the op produces no value
	}

	// Term is the single control transfer ending a block.
	Term interface {
		Succs() []BlockID
		TermSources() []Reg
	}
)

const None Reg = -1

const (
	Eq Cond = "=="
	Ne Cond = "!="
	Lt Cond = "<"
	Le Cond = "<="
	Gt Cond = ">"
	Ge Cond = ">="
)

// Entry returns the distinguished entry block.
func (f *Func) Entry() *Block { return f.Blocks[0] }

// TypeOf returns the declared type of a register.
func (f *Func) TypeOf(r Reg) tp.Type { return f.Regs[r].Type }

// NameOf returns the declared name of a register, "" for temporaries.
func (f *Func) NameOf(r Reg) string { return f.Regs[r].Name }

// Arg returns the parameter owning the register, or nil.
func (f *Func) Arg(r Reg) *Param {
	for i := range f.In {
		if f.In[i].Reg == r {
			return &f.In[i]
		}
	}

	return nil
}

type (
	// LoadInt produces a scalar literal. The register's declared type
	// selects the tagged or the fixed-width representation.
	LoadInt struct {
		D   Reg
		Val int64
	}

	LoadBool struct {
		D   Reg
		Val bool
	}

	// LoadNone produces the absent sentinel. No ownership.
	LoadNone struct {
		D Reg
	}

	// LoadErr initializes a register to the unbound error sentinel.
	LoadErr struct {
		D Reg
	}

	// Assign copies S into D. The pass decides whether the copy
	// duplicates ownership or moves it.
	Assign struct {
		D, S Reg
	}

	// New constructs a class instance. The result starts owned.
	New struct {
		D     Reg
		Class string
	}

	// NewSeq constructs a sequence from elements, stealing each element.
	NewSeq struct {
		D     Reg
		Elems []Reg
	}

	// Call invokes a function. Arguments are borrowed for the duration of
	// the call; the result, if any, is a fresh owned value.
	Call struct {
		D    Reg // None for void calls
		Func string
		Args []Reg
	}

	// GetField reads a field. Non-borrowed form yields an owned copy
	// (the runtime increments on read); the pass upgrades eligible reads
	// to borrows, which yield a view into Obj at zero cost.
	GetField struct {
		D, Obj Reg
		Field  string
		Borrow bool
	}

	// SetField writes a field, stealing S. The old field value is
	// released by the runtime as part of the store.
	SetField struct {
		Obj   Reg
		Field string
		S     Reg
	}

	// GetElem reads a sequence element. The runtime validates the index
	// and raises a range fault on failure. Only reads at provably
	// in-range literal indexes may be upgraded to borrows.
	GetElem struct {
		D, Seq, Index Reg
		Borrow        bool
	}

	// SetElem stores into a sequence element, stealing S.
	SetElem struct {
		Seq, Index, S Reg
	}

	// Box produces the heap form of an unboxed scalar. Always fresh, owned.
	Box struct {
		D, S Reg
	}

	// Unbox recovers the scalar from its heap form, consuming the box.
	// Raises a type fault if the box holds something else.
	Unbox struct {
		D, S Reg
	}

	// Cast narrows a value to the destination register's type, checking
	// concrete identity at runtime and raising a type fault on mismatch.
	// The result is a view of S: borrowable.
	Cast struct {
		D, S   Reg
		Borrow bool
	}

	// TypeTest produces a bit: whether S's concrete class is Class.
	// Inspects type identity only, never touches counts.
	TypeTest struct {
		D, S  Reg
		Class string
	}

	// TraitGet reads a trait member through the trait sub-table of the
	// object's primary dispatch table.
	TraitGet struct {
		D, Obj Reg
		Trait  string
		Member string
		Borrow bool
	}

	// DynGet is the generic dynamic attribute lookup, the last-resort
	// branch for opaque union alternatives. Result is always owned.
	DynGet struct {
		D, Obj Reg
		Name   string
	}

	Add struct{ D, L, R Reg }
	Sub struct{ D, L, R Reg }
	Mul struct{ D, L, R Reg }

	Cmp struct {
		D, L, R Reg
		Cond    Cond
	}

	// KeepAlive pins registers as in use without any other effect.
	// The pass emits it to hold a borrow source live past the last
	// ordinary use of the borrowed view.
	KeepAlive struct {
		Regs []Reg
	}

	// IncRef increments the count of an owned or borrowed value.
	IncRef struct {
		S Reg
	}

	// DecRef releases one reference. The safe form is a no-op on the
	// unbound sentinel and on the absent sentinel.
	DecRef struct {
		S    Reg
		Safe bool
	}

	// CheckBound raises an unbound-variable fault if S holds the error
	// sentinel. Inserted before reads of maybe-unbound registers.
	CheckBound struct {
		S    Reg
		Name string
	}
)

func (x LoadInt) Sources() []Reg    { return nil }
func (x LoadBool) Sources() []Reg   { return nil }
func (x LoadNone) Sources() []Reg   { return nil }
func (x LoadErr) Sources() []Reg    { return nil }
func (x Assign) Sources() []Reg     { return []Reg{x.S} }
func (x New) Sources() []Reg        { return nil }
func (x NewSeq) Sources() []Reg     { return x.Elems }
func (x Call) Sources() []Reg       { return x.Args }
func (x GetField) Sources() []Reg   { return []Reg{x.Obj} }
func (x SetField) Sources() []Reg   { return []Reg{x.Obj, x.S} }
func (x GetElem) Sources() []Reg    { return []Reg{x.Seq, x.Index} }
func (x SetElem) Sources() []Reg    { return []Reg{x.Seq, x.Index, x.S} }
func (x Box) Sources() []Reg        { return []Reg{x.S} }
func (x Unbox) Sources() []Reg      { return []Reg{x.S} }
func (x Cast) Sources() []Reg       { return []Reg{x.S} }
func (x TypeTest) Sources() []Reg   { return []Reg{x.S} }
func (x TraitGet) Sources() []Reg   { return []Reg{x.Obj} }
func (x DynGet) Sources() []Reg     { return []Reg{x.Obj} }
func (x Add) Sources() []Reg        { return []Reg{x.L, x.R} }
func (x Sub) Sources() []Reg        { return []Reg{x.L, x.R} }
func (x Mul) Sources() []Reg        { return []Reg{x.L, x.R} }
func (x Cmp) Sources() []Reg        { return []Reg{x.L, x.R} }
func (x KeepAlive) Sources() []Reg  { return x.Regs }
func (x IncRef) Sources() []Reg     { return []Reg{x.S} }
func (x DecRef) Sources() []Reg     { return []Reg{x.S} }
func (x CheckBound) Sources() []Reg { return []Reg{x.S} }

func (x LoadInt) Dst() Reg    { return x.D }
func (x LoadBool) Dst() Reg   { return x.D }
func (x LoadNone) Dst() Reg   { return x.D }
func (x LoadErr) Dst() Reg    { return x.D }
func (x Assign) Dst() Reg     { return x.D }
func (x New) Dst() Reg        { return x.D }
func (x NewSeq) Dst() Reg     { return x.D }
func (x Call) Dst() Reg       { return x.D }
func (x GetField) Dst() Reg   { return x.D }
func (x SetField) Dst() Reg   { return None }
func (x GetElem) Dst() Reg    { return x.D }
func (x SetElem) Dst() Reg    { return None }
func (x Box) Dst() Reg        { return x.D }
func (x Unbox) Dst() Reg      { return x.D }
func (x Cast) Dst() Reg       { return x.D }
func (x TypeTest) Dst() Reg   { return x.D }
func (x TraitGet) Dst() Reg   { return x.D }
func (x DynGet) Dst() Reg     { return x.D }
func (x Add) Dst() Reg        { return x.D }
func (x Sub) Dst() Reg        { return x.D }
func (x Mul) Dst() Reg        { return x.D }
func (x Cmp) Dst() Reg        { return x.D }
func (x KeepAlive) Dst() Reg  { return None }
func (x IncRef) Dst() Reg     { return None }
func (x DecRef) Dst() Reg     { return None }
func (x CheckBound) Dst() Reg { return None }

type (
	Goto struct {
		To BlockID
	}

	// Branch transfers to Then if Cond holds, Else otherwise.
	// With IsErr set, it tests the unbound sentinel instead of truth.
	Branch struct {
		Cond       Reg
		Then, Else BlockID
		IsErr      bool
	}

	Ret struct {
		S Reg // None for void
	}

	Unreachable struct{}
)

func (x Goto) Succs() []BlockID        { return []BlockID{x.To} }
func (x Branch) Succs() []BlockID      { return []BlockID{x.Then, x.Else} }
func (x Ret) Succs() []BlockID         { return nil }
func (x Unreachable) Succs() []BlockID { return nil }

func (x Goto) TermSources() []Reg { return nil }
func (x Branch) TermSources() []Reg {
	return []Reg{x.Cond}
}
func (x Ret) TermSources() []Reg {
	if x.S == None {
		return nil
	}

	return []Reg{x.S}
}
func (x Unreachable) TermSources() []Reg { return nil }

// Stolen returns the source operands whose ownership the op consumes.
// A stolen operand needs no release by the caller; stealing a value that
// must stay live costs an increment first.
func Stolen(op Op) []Reg {
	switch x := op.(type) {
	case NewSeq:
		return x.Elems
	case SetField:
		return []Reg{x.S}
	case SetElem:
		return []Reg{x.S}
	case Unbox:
		return []Reg{x.S}
	}

	return nil
}

// BorrowedView reports whether the op result is a borrowed view and the
// register it borrows from.
func BorrowedView(op Op) (Reg, bool) {
	switch x := op.(type) {
	case GetField:
		if x.Borrow {
			return x.Obj, true
		}
	case GetElem:
		if x.Borrow {
			return x.Seq, true
		}
	case Cast:
		if x.Borrow {
			return x.S, true
		}
	case TraitGet:
		if x.Borrow {
			return x.Obj, true
		}
	}

	return None, false
}

// Projection reports whether the op is a pure view into a source, the
// shape the pass may upgrade to a borrow, and which source that is.
func Projection(op Op) (Reg, bool) {
	switch x := op.(type) {
	case GetField:
		return x.Obj, true
	case GetElem:
		return x.Seq, true
	case Cast:
		return x.S, true
	case TraitGet:
		return x.Obj, true
	}

	return None, false
}
