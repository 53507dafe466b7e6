package irfile

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/cls"
	"github.com/brisklang/brisk/compiler/ir"
	"github.com/brisklang/brisk/compiler/tp"
)

// irfile reads program fixtures: a whole package as a yaml document,
// with classes, traits and functions spelled out block by block.
// Registers are referenced by name, blocks by position.

type (
	file struct {
		Package string      `yaml:"package"`
		Traits  []traitSpec `yaml:"traits"`
		Classes []classSpec `yaml:"classes"`
		Funcs   []funcSpec  `yaml:"funcs"`
	}

	traitSpec struct {
		Name    string   `yaml:"name"`
		Members []string `yaml:"members"`
	}

	classSpec struct {
		Name   string      `yaml:"name"`
		Fields []fieldSpec `yaml:"fields"`
		Traits []string    `yaml:"traits"`
		Opaque bool        `yaml:"opaque"`
	}

	fieldSpec struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	}

	funcSpec struct {
		Name   string      `yaml:"name"`
		Ret    string      `yaml:"ret"`
		Args   []argSpec   `yaml:"args"`
		Regs   []fieldSpec `yaml:"regs"`
		Blocks []blockSpec `yaml:"blocks"`
	}

	argSpec struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Borrowed bool   `yaml:"borrowed"`
	}

	blockSpec struct {
		Ops  []opSpec `yaml:"ops"`
		Term opSpec   `yaml:"term"`
	}

	opSpec struct {
		Op string `yaml:"op"`

		Dst    string   `yaml:"dst"`
		Src    string   `yaml:"src"`
		Obj    string   `yaml:"obj"`
		Seq    string   `yaml:"seq"`
		Index  string   `yaml:"index"`
		L      string   `yaml:"l"`
		R      string   `yaml:"r"`
		Cond   string   `yaml:"cond"`
		Field  string   `yaml:"field"`
		Name   string   `yaml:"name"`
		Class  string   `yaml:"class"`
		Trait  string   `yaml:"trait"`
		Member string   `yaml:"member"`
		Func   string   `yaml:"func"`
		Args   []string `yaml:"args"`
		Elems  []string `yaml:"elems"`
		Regs   []string `yaml:"regs"`
		Val    int64    `yaml:"val"`
		Bool   bool     `yaml:"bool"`
		Borrow bool     `yaml:"borrow"`
		Safe   bool     `yaml:"safe"`
		IsErr  bool     `yaml:"is_err"`
		To     int      `yaml:"to"`
		Then   int      `yaml:"then"`
		Else   int      `yaml:"else"`
	}

	funcBuild struct {
		f    *ir.Func
		regs map[string]ir.Reg
	}
)

func Load(name string) (*ir.Package, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	return Decode(data)
}

func Decode(data []byte) (p *ir.Package, err error) {
	var f file

	err = yaml.Unmarshal(data, &f)
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	reg := cls.NewRegistry()

	for _, t := range f.Traits {
		err = reg.AddTrait(&cls.Trait{Name: t.Name, Members: t.Members})
		if err != nil {
			return nil, errors.Wrap(err, "trait %v", t.Name)
		}
	}

	for _, c := range f.Classes {
		cc := &cls.Class{Name: c.Name, Opaque: c.Opaque}

		for _, fl := range c.Fields {
			ft, err := ParseType(fl.Type)
			if err != nil {
				return nil, errors.Wrap(err, "class %v field %v", c.Name, fl.Name)
			}

			cc.Fields = append(cc.Fields, cls.Field{Name: fl.Name, Type: ft})
		}

		for _, tn := range c.Traits {
			t := reg.Trait(tn)
			if t == nil {
				return nil, errors.New("class %v: unknown trait %v", c.Name, tn)
			}

			cc.Traits = append(cc.Traits, t)
		}

		err = reg.AddClass(cc)
		if err != nil {
			return nil, errors.Wrap(err, "class %v", c.Name)
		}
	}

	p = &ir.Package{
		Path:    f.Package,
		Classes: reg,
	}

	for _, fs := range f.Funcs {
		fn, err := buildFunc(fs)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", fs.Name)
		}

		p.Funcs = append(p.Funcs, fn)
	}

	return p, nil
}

func buildFunc(fs funcSpec) (*ir.Func, error) {
	b := &funcBuild{
		f:    &ir.Func{Name: fs.Name},
		regs: map[string]ir.Reg{},
	}

	if fs.Ret != "" {
		rt, err := ParseType(fs.Ret)
		if err != nil {
			return nil, errors.Wrap(err, "ret")
		}

		b.f.Ret = rt
	}

	for _, a := range fs.Args {
		t, err := ParseType(a.Type)
		if err != nil {
			return nil, errors.Wrap(err, "arg %v", a.Name)
		}

		r, err := b.addReg(a.Name, t)
		if err != nil {
			return nil, err
		}

		b.f.In = append(b.f.In, ir.Param{Reg: r, Name: a.Name, Type: t, Borrowed: a.Borrowed})
	}

	for _, rs := range fs.Regs {
		t, err := ParseType(rs.Type)
		if err != nil {
			return nil, errors.Wrap(err, "reg %v", rs.Name)
		}

		_, err = b.addReg(rs.Name, t)
		if err != nil {
			return nil, err
		}
	}

	for i, bs := range fs.Blocks {
		blk := &ir.Block{ID: ir.BlockID(i)}

		for j, o := range bs.Ops {
			op, err := b.op(o)
			if err != nil {
				return nil, errors.Wrap(err, "b%v op %v", i, j)
			}

			blk.Ops = append(blk.Ops, op)
		}

		term, err := b.term(bs.Term, len(fs.Blocks))
		if err != nil {
			return nil, errors.Wrap(err, "b%v term", i)
		}

		blk.Term = term

		b.f.Blocks = append(b.f.Blocks, blk)
	}

	if len(b.f.Blocks) == 0 {
		return nil, errors.New("no blocks")
	}

	return b.f, nil
}

func (b *funcBuild) addReg(name string, t tp.Type) (ir.Reg, error) {
	if _, ok := b.regs[name]; ok {
		return ir.None, errors.New("duplicate register: %v", name)
	}

	r := ir.Reg(len(b.f.Regs))
	b.f.Regs = append(b.f.Regs, ir.RegInfo{Name: name, Type: t})
	b.regs[name] = r

	return r, nil
}

func (b *funcBuild) reg(name string) (ir.Reg, error) {
	if name == "" {
		return ir.None, errors.New("missing register")
	}

	r, ok := b.regs[name]
	if !ok {
		return ir.None, errors.New("unknown register: %v", name)
	}

	return r, nil
}

func (b *funcBuild) regList(names []string) ([]ir.Reg, error) {
	rs := make([]ir.Reg, len(names))

	for i, n := range names {
		r, err := b.reg(n)
		if err != nil {
			return nil, err
		}

		rs[i] = r
	}

	return rs, nil
}
