package schema

import (
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"

	"canopy/pkg/logging"
)

// FieldSpec describes one declared field of a registered model type.
type FieldSpec struct {
	Name       string // Go field name
	Key        string // inline serialization key; naming input for Auto
	Index      int    // field index within the struct
	Type       reflect.Type
	Annotation *FieldAnnotation // nil for Normal fields
}

// Kind returns the field's classification.
func (s FieldSpec) Kind() FieldKind {
	if s.Annotation == nil {
		return KindNormal
	}
	return s.Annotation.Kind
}

// Optional reports whether a missing external resource is tolerated for this
// field. Pointer-typed external fields are implicitly optional.
func (s FieldSpec) Optional() bool {
	if s.Annotation == nil {
		return false
	}
	return s.Annotation.Optional || s.Type.Kind() == reflect.Ptr
}

// RelName returns the field's relative path name: the explicit path for
// FixedPath naming, the field identifier for Auto naming.
func (s FieldSpec) RelName() string {
	if s.Annotation != nil && s.Annotation.Naming == NamingFixedPath {
		return s.Annotation.Path
	}
	return s.Key
}

// FieldTable is the immutable per-type annotation table built once by
// Register. All instances of the type share the same table.
type FieldTable struct {
	Type   reflect.Type // struct type, pointer stripped
	Fields []FieldSpec  // exported fields in declaration order

	entryName int  // Fields index of the folder-entry naming field, -1 if none
	entryDir  bool // folder entries are directories, not files
	hasNormal bool
}

// Externals returns the External field specs in declaration order.
func (t *FieldTable) Externals() []FieldSpec {
	return t.byKind(KindExternal)
}

// Implieds returns the Implied field specs in declaration order.
func (t *FieldTable) Implieds() []FieldSpec {
	return t.byKind(KindImplied)
}

func (t *FieldTable) byKind(k FieldKind) []FieldSpec {
	var out []FieldSpec
	for _, f := range t.Fields {
		if f.Kind() == k {
			out = append(out, f)
		}
	}
	return out
}

// HasNormal reports whether any field is serialized inline. A model without
// inline fields writes no document file of its own.
func (t *FieldTable) HasNormal() bool { return t.hasNormal }

// DocName is the file stem used for this model's document when it is stored
// as a directory (workspace roots and directory-shaped folder entries).
func (t *FieldTable) DocName() string {
	return strings.ToLower(t.Type.Name())
}

// EntryIsDir reports whether folder entries of this model type are
// directories holding a type-named document, rather than plain files.
func (t *FieldTable) EntryIsDir() bool { return t.entryDir }

// EntryName derives the folder-entry name for one instance of this model.
// v must be the struct value (not a pointer).
func (t *FieldTable) EntryName(v reflect.Value) (string, error) {
	if t.entryName < 0 {
		return "", fmt.Errorf("%s has no entry naming field", t.Type.Name())
	}
	spec := t.Fields[t.entryName]
	name := v.Field(spec.Index).String()
	if name == "" {
		return "", fmt.Errorf("%s.%s: empty entry name", t.Type.Name(), spec.Name)
	}
	return name, nil
}

var (
	regMu  sync.RWMutex
	tables = make(map[reflect.Type]*FieldTable)
)

// Register builds the annotation table for a model type, validating every
// field annotation. The table is cached per type; repeated registration
// returns the cached table unchanged. t may be the struct type or a pointer
// to it.
func Register(t reflect.Type) (*FieldTable, error) {
	return register(t, nil)
}

func register(t reflect.Type, visiting map[reflect.Type]bool) (*FieldTable, error) {
	t = indirect(t)
	if t.Kind() != reflect.Struct {
		return nil, schemaErrf(t.String(), "", "model type must be a struct")
	}

	regMu.RLock()
	cached := tables[t]
	regMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	if visiting == nil {
		visiting = make(map[reflect.Type]bool)
	}
	if visiting[t] {
		return nil, schemaErrf(t.Name(), "", "recursive model type")
	}
	visiting[t] = true
	defer delete(visiting, t)

	table, err := build(t, visiting)
	if err != nil {
		return nil, err
	}

	regMu.Lock()
	if prior, ok := tables[t]; ok {
		table = prior
	} else {
		tables[t] = table
	}
	regMu.Unlock()

	logging.Debug("Registry", "Registered model type %s (%d fields)", t.Name(), len(table.Fields))
	return table, nil
}

func build(t reflect.Type, visiting map[reflect.Type]bool) (*FieldTable, error) {
	table := &FieldTable{Type: t, entryName: -1}
	claimed := make(map[string]string) // cleaned relative path -> field name

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}

		key, excluded := yamlKey(f)
		ann, err := parseTag(t.Name(), f.Name, f.Tag.Get(TagName))
		if err != nil {
			return nil, err
		}
		if ann == nil && f.Anonymous {
			continue // embedded structs serialize inline via yaml
		}

		spec := FieldSpec{Name: f.Name, Key: key, Index: i, Type: f.Type, Annotation: ann}

		switch spec.Kind() {
		case KindNormal:
			if !excluded {
				table.hasNormal = true
			}

		case KindExternal:
			if !excluded {
				return nil, schemaErrf(t.Name(), f.Name, `external field must carry yaml:"-"`)
			}
			rel := path.Clean(spec.RelName())
			if prev, dup := claimed[rel]; dup {
				return nil, schemaErrf(t.Name(), f.Name, "resolved path %q already claimed by field %s", rel, prev)
			}
			claimed[rel] = f.Name
			if err := validateExternal(t.Name(), spec, visiting); err != nil {
				return nil, err
			}

		case KindImplied:
			if !excluded {
				return nil, schemaErrf(t.Name(), f.Name, `implied field must carry yaml:"-"`)
			}
			if f.Type.Kind() != reflect.String {
				return nil, schemaErrf(t.Name(), f.Name, "implied strategy derives a string, field type is %s", f.Type)
			}
		}

		table.Fields = append(table.Fields, spec)
	}

	resolveEntryNaming(table)
	return table, nil
}

// resolveEntryNaming determines how instances of this model are named when
// they appear as folder entries: a FolderName-implied field makes entries
// directories, a FileName-implied field makes them files, and a plain string
// field with key "name" is the fallback.
func resolveEntryNaming(table *FieldTable) {
	fileName := -1
	nameKey := -1
	for i, spec := range table.Fields {
		switch {
		case spec.Kind() == KindImplied && spec.Annotation.Implied == ImpliedFolderName:
			table.entryName = i
			table.entryDir = true
			return
		case spec.Kind() == KindImplied && spec.Annotation.Implied == ImpliedFileName:
			if fileName < 0 {
				fileName = i
			}
		case spec.Kind() == KindNormal && spec.Key == "name" && spec.Type.Kind() == reflect.String:
			if nameKey < 0 {
				nameKey = i
			}
		}
	}
	if fileName >= 0 {
		table.entryName = fileName
		return
	}
	table.entryName = nameKey
}

// validateExternal checks that an external field's declared type can actually
// be represented with the chosen output strategy, registering element model
// types along the way.
func validateExternal(typ string, spec FieldSpec, visiting map[reflect.Type]bool) error {
	ft := indirect(spec.Type)

	if spec.Annotation.Output == OutputFolder {
		switch ft.Kind() {
		case reflect.Slice:
			elem := indirect(ft.Elem())
			if elem.Kind() != reflect.Struct {
				return schemaErrf(typ, spec.Name, "folder sequence element must be a model, got %s", elem)
			}
			elemTable, err := register(elem, visiting)
			if err != nil {
				return err
			}
			if elemTable.entryName < 0 {
				return schemaErrf(typ, spec.Name,
					"folder entries of %s have no derivable name (need an implied naming field or a name field)", elem.Name())
			}
		case reflect.Map:
			if ft.Key().Kind() != reflect.String {
				return schemaErrf(typ, spec.Name, "folder map key must be a string, got %s", ft.Key())
			}
			elem := indirect(ft.Elem())
			if elem.Kind() != reflect.Struct {
				return schemaErrf(typ, spec.Name, "folder map element must be a model, got %s", elem)
			}
			if _, err := register(elem, visiting); err != nil {
				return err
			}
		case reflect.Struct:
			if _, err := register(ft, visiting); err != nil {
				return err
			}
		default:
			return schemaErrf(typ, spec.Name, "folder output requires a model, sequence, or map field, got %s", ft)
		}
		return nil
	}

	// SingleFile: a nested model becomes a child document; sequences and
	// maps serialize whole into one file, so their elements must not carry
	// external subtrees of their own.
	switch ft.Kind() {
	case reflect.Struct:
		if _, err := register(ft, visiting); err != nil {
			return err
		}
	case reflect.Slice, reflect.Map:
		elem := indirect(elemOf(ft))
		if elem.Kind() == reflect.Struct {
			elemTable, err := register(elem, visiting)
			if err != nil {
				return err
			}
			if len(elemTable.Externals()) > 0 {
				return schemaErrf(typ, spec.Name,
					"single-file sequence element %s declares external fields", elem.Name())
			}
		}
	}
	return nil
}

func elemOf(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.Slice, reflect.Map:
		return t.Elem()
	default:
		return t
	}
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
