package layout

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canopy/internal/schema"
	"canopy/internal/testing/fixtures/network"
)

func TestResolveName(t *testing.T) {
	name, err := ResolveName(schema.NamingAuto, "services", "")
	require.NoError(t, err)
	assert.Equal(t, "services", name)

	name, err = ResolveName(schema.NamingFixedPath, "deployment", "someip/deployment")
	require.NoError(t, err)
	assert.Equal(t, "someip/deployment", name, "fixed paths pass through verbatim, multi-segment included")

	// No case transformation: authors align identifiers and file names.
	name, err = ResolveName(schema.NamingAuto, "ECUList", "")
	require.NoError(t, err)
	assert.Equal(t, "ECUList", name)

	_, err = ResolveName(schema.NamingFixedPath, "x", "")
	assert.Error(t, err)
	_, err = ResolveName(schema.NamingAuto, "", "")
	assert.Error(t, err)
}

func TestComputeImplied(t *testing.T) {
	got, err := ComputeImplied(schema.ImpliedFolderName, filepath.FromSlash("/cfg/ecus/front_left/ecu.cfg"), ".cfg")
	require.NoError(t, err)
	assert.Equal(t, "front_left", got)

	got, err = ComputeImplied(schema.ImpliedFileName, filepath.FromSlash("/cfg/service.cfg"), ".cfg")
	require.NoError(t, err)
	assert.Equal(t, "service", got)

	// Multi-part extensions are stripped whole.
	got, err = ComputeImplied(schema.ImpliedFileName, filepath.FromSlash("/cfg/telemetry.canopy.yaml"), ".canopy.yaml")
	require.NoError(t, err)
	assert.Equal(t, "telemetry", got)

	// Unknown extension falls back to the path's own.
	got, err = ComputeImplied(schema.ImpliedFileName, filepath.FromSlash("/cfg/other.yml"), ".cfg")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestComputeImplied_Unbound(t *testing.T) {
	_, err := ComputeImplied(schema.ImpliedFolderName, "", ".cfg")
	var ire *ImpliedResolutionError
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, schema.ImpliedFolderName, ire.Strategy)
}

func TestResolver_Resolve(t *testing.T) {
	r := Resolver{Ext: ".canopy.yaml"}
	base := filepath.FromSlash("/ws/demo_car")

	file := &schema.FieldAnnotation{Kind: schema.KindExternal, Output: schema.OutputSingleFile}
	folder := &schema.FieldAnnotation{Kind: schema.KindExternal, Output: schema.OutputFolder}
	fixed := &schema.FieldAnnotation{
		Kind: schema.KindExternal, Output: schema.OutputSingleFile,
		Naming: schema.NamingFixedPath, Path: "someip/deployment",
	}

	p, err := r.Resolve(base, file, "network")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "network.canopy.yaml"), p)

	p, err = r.Resolve(base, folder, "services")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "services"), p)

	p, err = r.Resolve(base, fixed, "deployment")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "someip", "deployment.canopy.yaml"), p)

	// Determinism: identical inputs, identical result.
	again, err := r.Resolve(base, fixed, "deployment")
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

// Sibling external fields of one model must resolve to pairwise-distinct
// paths from the same base directory.
func TestResolver_SiblingPathsDistinct(t *testing.T) {
	table, err := schema.Register(reflect.TypeOf(network.Vehicle{}))
	require.NoError(t, err)

	r := Resolver{Ext: ".canopy.yaml"}
	base := filepath.FromSlash("/ws/demo_car")

	seen := make(map[string]string)
	for _, spec := range table.Externals() {
		p, err := r.Resolve(base, spec.Annotation, spec.Key)
		require.NoError(t, err)
		prev, dup := seen[p]
		require.False(t, dup, "fields %s and %s resolve to the same path %s", prev, spec.Key, p)
		seen[p] = spec.Key
	}
	assert.Len(t, seen, len(table.Externals()))
}

func TestResolver_Paths(t *testing.T) {
	r := Resolver{Ext: ".canopy.yaml"}
	assert.Equal(t, filepath.FromSlash("/a/b.canopy.yaml"), r.DocFile(filepath.FromSlash("/a/b")))
	assert.Equal(t, filepath.FromSlash("/a/b"), r.ChildBase(filepath.FromSlash("/a/b.canopy.yaml")))
	assert.Equal(t, filepath.FromSlash("/a/x.canopy.yaml"), r.EntryFile(filepath.FromSlash("/a"), "x"))
	assert.Equal(t, "x", r.Stem(filepath.FromSlash("/a/x.canopy.yaml")))
	assert.Equal(t, "front_left", r.Stem(filepath.FromSlash("/a/front_left")))
}

func TestResolveShape(t *testing.T) {
	fileAnn := &schema.FieldAnnotation{Kind: schema.KindExternal, Output: schema.OutputSingleFile}
	folderAnn := &schema.FieldAnnotation{Kind: schema.KindExternal, Output: schema.OutputFolder}

	services := []network.Service{
		{Name: "diagnostics"}, {Name: "telemetry"}, {Name: "updates"},
	}

	shape, entries, err := ResolveShape(fileAnn, reflect.ValueOf(services), nil)
	require.NoError(t, err)
	assert.Equal(t, ShapeFile, shape, "single-file output is one file even for a sequence")
	assert.Empty(t, entries)

	svcTable, err := schema.Register(reflect.TypeOf(network.Service{}))
	require.NoError(t, err)
	shape, entries, err = ResolveShape(folderAnn, reflect.ValueOf(services), svcTable)
	require.NoError(t, err)
	assert.Equal(t, ShapeFolder, shape)
	assert.Equal(t, []string{"diagnostics", "telemetry", "updates"}, entries, "one entry per element, in order")

	endpoints := map[string]network.Endpoint{
		"unicast":   {},
		"broadcast": {},
	}
	epTable, err := schema.Register(reflect.TypeOf(network.Endpoint{}))
	require.NoError(t, err)
	shape, entries, err = ResolveShape(folderAnn, reflect.ValueOf(endpoints), epTable)
	require.NoError(t, err)
	assert.Equal(t, ShapeFolder, shape)
	assert.Equal(t, []string{"broadcast", "unicast"}, entries, "map entries sorted by key")

	// A nested model as a folder: one entry per stored sub-part.
	ecuTable, err := schema.Register(reflect.TypeOf(network.ECU{}))
	require.NoError(t, err)
	shape, entries, err = ResolveShape(folderAnn, reflect.ValueOf(network.ECU{Name: "gw"}), ecuTable)
	require.NoError(t, err)
	assert.Equal(t, ShapeFolder, shape)
	assert.Equal(t, []string{"ecu", "ports"}, entries)

	// Unnamed elements fail before any I/O could happen.
	_, _, err = ResolveShape(folderAnn, reflect.ValueOf([]network.Service{{}}), svcTable)
	assert.Error(t, err)
}
