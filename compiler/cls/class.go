package cls

import (
	"tlog.app/go/errors"

	"github.com/brisklang/brisk/compiler/tp"
)

type (
	// Field is a named slot in a class layout.
	// Index is the slot position, fixed at class construction.
	Field struct {
		Name  string
		Type  tp.Type
		Index int
	}

	// Method is an entry in the primary dispatch table.
	Method struct {
		Name string
		Func string
	}

	// Trait is a behavior contract implemented by several concrete layouts.
	// Members are ordered; the order defines sub-table slot indexes.
	Trait struct {
		Name    string
		Members []string
	}

	// Class is a concrete heap layout known to the compiler.
	//
	// A class carries one primary dispatch table plus one bounded sub-table
	// per implemented trait. The sub-tables model the trait tables the
	// runtime reaches by scanning backward from the primary table: the scan
	// is bounded by the number of implemented traits, so lookup is
	// O(implemented traits) and slot access within a sub-table is O(1).
	Class struct {
		Name    string
		Fields  []Field
		Methods []Method
		Traits  []*Trait

		// Opaque marks a foreign layout the compiler cannot see into.
		// Member access on an opaque class uses the dynamic fallback.
		Opaque bool
	}

	// Registry holds every class and trait of one compilation.
	// Declaration order is preserved: it is the tie-break order for
	// union dispatch chains.
	Registry struct {
		classes map[string]*Class
		traits  map[string]*Trait
		order   []string
	}
)

func NewRegistry() *Registry {
	return &Registry{
		classes: map[string]*Class{},
		traits:  map[string]*Trait{},
	}
}

// AddClass registers a class. Field indexes are assigned here.
func (r *Registry) AddClass(c *Class) error {
	if _, ok := r.classes[c.Name]; ok {
		return errors.New("duplicate class: %v", c.Name)
	}

	for i := range c.Fields {
		c.Fields[i].Index = i
	}

	r.classes[c.Name] = c
	r.order = append(r.order, c.Name)

	return nil
}

func (r *Registry) AddTrait(t *Trait) error {
	if _, ok := r.traits[t.Name]; ok {
		return errors.New("duplicate trait: %v", t.Name)
	}

	r.traits[t.Name] = t

	return nil
}

func (r *Registry) Class(name string) *Class {
	return r.classes[name]
}

func (r *Registry) Trait(name string) *Trait {
	return r.traits[name]
}

// Implementers returns classes implementing the trait, in declaration order.
func (r *Registry) Implementers(t *Trait) []*Class {
	var list []*Class

	for _, name := range r.order {
		c := r.classes[name]

		for _, have := range c.Traits {
			if have == t {
				list = append(list, c)
				break
			}
		}
	}

	return list
}

// Field returns the field layout entry or nil.
func (c *Class) Field(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}

	return nil
}

// VSlot returns the primary table slot of a method, or -1.
func (c *Class) VSlot(name string) int {
	for i, m := range c.Methods {
		if m.Name == name {
			return i
		}
	}

	return -1
}

// TraitTable returns the position of the trait among the class's implemented
// traits. It models the bounded backward scan through the table prefix:
// position -1 means the class does not implement the trait.
func (c *Class) TraitTable(t *Trait) int {
	for i, have := range c.Traits {
		if have == t {
			return i
		}
	}

	return -1
}

// TraitSlot returns the slot of a member inside the trait sub-table, or -1.
func (t *Trait) TraitSlot(member string) int {
	for i, m := range t.Members {
		if m == member {
			return i
		}
	}

	return -1
}
