package cls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisklang/brisk/compiler/tp"
)

func testRegistry(t *testing.T) *Registry {
	r := NewRegistry()

	sized := &Trait{Name: "Sized", Members: []string{"size"}}
	named := &Trait{Name: "Named", Members: []string{"name", "tag"}}

	require.NoError(t, r.AddTrait(sized))
	require.NoError(t, r.AddTrait(named))

	require.NoError(t, r.AddClass(&Class{
		Name: "File",
		Fields: []Field{
			{Name: "size", Type: tp.Int},
			{Name: "name", Type: tp.Any{}},
			{Name: "tag", Type: tp.Any{}},
		},
		Traits: []*Trait{sized, named},
	}))

	require.NoError(t, r.AddClass(&Class{
		Name: "Dir",
		Fields: []Field{
			{Name: "size", Type: tp.Int},
		},
		Traits: []*Trait{sized},
	}))

	return r
}

func TestFieldIndexes(t *testing.T) {
	r := testRegistry(t)

	f := r.Class("File")
	require.NotNil(t, f)

	assert.Equal(t, 0, f.Field("size").Index)
	assert.Equal(t, 2, f.Field("tag").Index)
	assert.Nil(t, f.Field("missing"))
}

func TestDuplicates(t *testing.T) {
	r := testRegistry(t)

	assert.Error(t, r.AddClass(&Class{Name: "File"}))
	assert.Error(t, r.AddTrait(&Trait{Name: "Sized"}))
}

func TestTraitTable(t *testing.T) {
	r := testRegistry(t)

	sized := r.Trait("Sized")
	named := r.Trait("Named")

	// scan position among the implemented traits
	assert.Equal(t, 0, r.Class("File").TraitTable(sized))
	assert.Equal(t, 1, r.Class("File").TraitTable(named))
	assert.Equal(t, 0, r.Class("Dir").TraitTable(sized))
	assert.Equal(t, -1, r.Class("Dir").TraitTable(named))

	assert.Equal(t, 0, named.TraitSlot("name"))
	assert.Equal(t, 1, named.TraitSlot("tag"))
	assert.Equal(t, -1, named.TraitSlot("size"))
}

func TestImplementers(t *testing.T) {
	r := testRegistry(t)

	var names []string
	for _, c := range r.Implementers(r.Trait("Sized")) {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"File", "Dir"}, names)
}
