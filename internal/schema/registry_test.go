package schema

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainModel struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

type namedEntry struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type dirEntry struct {
	ID     string `yaml:"-" canopy:"implied,folder"`
	Vendor string `yaml:"vendor"`
}

type fileEntry struct {
	ID   string `yaml:"-" canopy:"implied,filename"`
	Port int    `yaml:"port"`
}

type annotatedModel struct {
	ID       string       `yaml:"-" canopy:"implied,folder"`
	Schema   string       `yaml:"schema"`
	Units    []dirEntry   `yaml:"-" canopy:"external,folder,name=units"`
	Routes   []fileEntry  `yaml:"-" canopy:"external,folder"`
	Extra    *plainModel  `yaml:"-" canopy:"external,optional"`
	Catalog  []namedEntry `yaml:"-" canopy:"external,folder,name=catalog"`
	Settings []string     `yaml:"-" canopy:"external"`
}

func TestRegister_Classification(t *testing.T) {
	table, err := Register(reflect.TypeOf(&annotatedModel{}))
	require.NoError(t, err)

	assert.Equal(t, "annotatedmodel", table.DocName())
	assert.True(t, table.HasNormal())
	assert.Len(t, table.Externals(), 5)
	assert.Len(t, table.Implieds(), 1)

	byKey := make(map[string]FieldSpec)
	for _, f := range table.Fields {
		byKey[f.Key] = f
	}

	units := byKey["units"]
	require.Equal(t, KindExternal, units.Kind())
	assert.Equal(t, NamingFixedPath, units.Annotation.Naming)
	assert.Equal(t, "units", units.RelName())
	assert.Equal(t, OutputFolder, units.Annotation.Output)
	assert.False(t, units.Optional())

	routes := byKey["routes"]
	assert.Equal(t, NamingAuto, routes.Annotation.Naming)
	assert.Equal(t, "routes", routes.RelName())

	extra := byKey["extra"]
	assert.Equal(t, OutputSingleFile, extra.Annotation.Output)
	assert.True(t, extra.Optional())

	id := byKey["id"]
	require.Equal(t, KindImplied, id.Kind())
	assert.Equal(t, ImpliedFolderName, id.Annotation.Implied)
}

func TestRegister_Cached(t *testing.T) {
	first, err := Register(reflect.TypeOf(annotatedModel{}))
	require.NoError(t, err)
	second, err := Register(reflect.TypeOf(&annotatedModel{}))
	require.NoError(t, err)
	assert.Same(t, first, second, "repeated registration must return the cached table")
}

func TestRegister_EntryNaming(t *testing.T) {
	dir, err := Register(reflect.TypeOf(dirEntry{}))
	require.NoError(t, err)
	assert.True(t, dir.EntryIsDir())

	file, err := Register(reflect.TypeOf(fileEntry{}))
	require.NoError(t, err)
	assert.False(t, file.EntryIsDir())

	named, err := Register(reflect.TypeOf(namedEntry{}))
	require.NoError(t, err)
	assert.False(t, named.EntryIsDir())

	name, err := named.EntryName(reflect.ValueOf(namedEntry{Name: "uint8"}))
	require.NoError(t, err)
	assert.Equal(t, "uint8", name)

	_, err = named.EntryName(reflect.ValueOf(namedEntry{}))
	assert.Error(t, err, "empty entry name must be rejected")
}

func TestRegister_Rejections(t *testing.T) {
	type bothKinds struct {
		X string `yaml:"-" canopy:"external,implied"`
	}
	type impliedInt struct {
		X int `yaml:"-" canopy:"implied,folder"`
	}
	type inlineExternal struct {
		X plainModel `yaml:"x" canopy:"external"`
	}
	type inlineImplied struct {
		X string `yaml:"x" canopy:"implied,filename"`
	}
	type escapingPath struct {
		X plainModel `yaml:"-" canopy:"external,name=../out"`
	}
	type absolutePath struct {
		X plainModel `yaml:"-" canopy:"external,name=/etc/x"`
	}
	type duplicateNames struct {
		A plainModel `yaml:"-" canopy:"external,name=shared"`
		B plainModel `yaml:"-" canopy:"external,name=shared"`
	}
	type scalarFolder struct {
		X []int `yaml:"-" canopy:"external,folder"`
	}
	type anonModel struct {
		Count int `yaml:"count"`
	}
	type namelessEntries struct {
		X []anonModel `yaml:"-" canopy:"external,folder"`
	}
	type externalInOneFile struct {
		X []annotatedModel `yaml:"-" canopy:"external"`
	}
	type badToken struct {
		X string `yaml:"-" canopy:"external,sideways"`
	}

	tests := []struct {
		name   string
		model  interface{}
		reason string
	}{
		{"external and implied", bothKinds{}, "both external and implied"},
		{"implied non-string", impliedInt{}, "implied strategy derives a string"},
		{"external without yaml dash", inlineExternal{}, `external field must carry yaml:"-"`},
		{"implied without yaml dash", inlineImplied{}, `implied field must carry yaml:"-"`},
		{"escaping fixed path", escapingPath{}, "escapes the document subtree"},
		{"absolute fixed path", absolutePath{}, "must be relative"},
		{"duplicate sibling paths", duplicateNames{}, "already claimed"},
		{"folder of scalars", scalarFolder{}, "must be a model"},
		{"folder entries without names", namelessEntries{}, "no derivable name"},
		{"single-file sequence with externals", externalInOneFile{}, "declares external fields"},
		{"unknown token", badToken{}, "invalid annotation token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Register(reflect.TypeOf(tc.model))
			require.Error(t, err)
			var se *SchemaError
			require.True(t, errors.As(err, &se), "expected *SchemaError, got %T", err)
			assert.Contains(t, se.Error(), tc.reason)
		})
	}
}

func TestRegister_RecursiveType(t *testing.T) {
	type node struct {
		Name     string `yaml:"name"`
		Children []node `yaml:"-" canopy:"external,folder"`
	}
	_, err := Register(reflect.TypeOf(node{}))
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "recursive")
}

func TestRegister_NonStruct(t *testing.T) {
	_, err := Register(reflect.TypeOf(42))
	var se *SchemaError
	require.True(t, errors.As(err, &se))
}
