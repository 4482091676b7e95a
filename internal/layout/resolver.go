package layout

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"canopy/internal/schema"
)

// Shape is the resolved on-disk form of an external field.
type Shape int

const (
	// ShapeFile denotes exactly one file.
	ShapeFile Shape = iota
	// ShapeFolder denotes a directory of entries.
	ShapeFolder
)

// String makes Shape satisfy the fmt.Stringer interface.
func (s Shape) String() string {
	if s == ShapeFolder {
		return "folder"
	}
	return "file"
}

// ImpliedResolutionError reports an implied value requested before the owning
// document's path was bound. This is a programming error in the engine or
// schema, not a recoverable condition.
type ImpliedResolutionError struct {
	Strategy schema.ImpliedStrategy
	Field    string
}

// Error implements the error interface.
func (e *ImpliedResolutionError) Error() string {
	strategy := "folder name"
	if e.Strategy == schema.ImpliedFileName {
		strategy = "file name"
	}
	if e.Field == "" {
		return fmt.Sprintf("implied %s requested before path binding", strategy)
	}
	return fmt.Sprintf("implied %s for field %s requested before path binding", strategy, e.Field)
}

// ResolveName evaluates a naming strategy to a relative path segment.
// FixedPath returns the explicit path verbatim (it may be multi-segment);
// Auto returns the field identifier verbatim, with no case transformation.
func ResolveName(strategy schema.NamingStrategy, fieldID, explicitPath string) (string, error) {
	switch strategy {
	case schema.NamingFixedPath:
		if explicitPath == "" {
			return "", fmt.Errorf("fixed path naming for %s has no explicit path", fieldID)
		}
		return explicitPath, nil
	case schema.NamingAuto:
		if fieldID == "" {
			return "", fmt.Errorf("auto naming requires a field identifier")
		}
		return fieldID, nil
	default:
		return "", fmt.Errorf("unknown naming strategy %d", strategy)
	}
}

// ComputeImplied derives an implied field value from the owning document's
// path. FolderName takes the name of the directory containing the document;
// FileName takes the document file name minus ext (falling back to the
// path's own extension when ext does not match).
func ComputeImplied(strategy schema.ImpliedStrategy, docPath, ext string) (string, error) {
	if docPath == "" {
		return "", &ImpliedResolutionError{Strategy: strategy}
	}
	switch strategy {
	case schema.ImpliedFolderName:
		return filepath.Base(filepath.Dir(docPath)), nil
	case schema.ImpliedFileName:
		base := filepath.Base(docPath)
		if ext != "" && strings.HasSuffix(base, ext) && len(base) > len(ext) {
			return strings.TrimSuffix(base, ext), nil
		}
		return strings.TrimSuffix(base, filepath.Ext(base)), nil
	default:
		return "", fmt.Errorf("unknown implied strategy %d", strategy)
	}
}

// Resolver computes concrete paths for external field representations. It is
// pure and deterministic: identical inputs always yield the identical path,
// and no call touches the filesystem.
type Resolver struct {
	// Ext is the engine-wide document extension, including the leading dot.
	Ext string
}

// Resolve combines a base directory, an annotation, and a field identifier
// into the path of the field's external representation: a directory for
// Folder output, a file with the document extension otherwise.
func (r Resolver) Resolve(baseDir string, ann *schema.FieldAnnotation, fieldID string) (string, error) {
	name, err := ResolveName(ann.Naming, fieldID, ann.Path)
	if err != nil {
		return "", err
	}
	p := filepath.Join(baseDir, filepath.FromSlash(name))
	if ann.Output == schema.OutputFolder {
		return p, nil
	}
	return p + r.Ext, nil
}

// DocFile returns the document file path for the logical node path base.
func (r Resolver) DocFile(base string) string {
	return base + r.Ext
}

// ChildBase returns the directory under which a document's external children
// live: the document path minus its extension.
func (r Resolver) ChildBase(docFile string) string {
	return strings.TrimSuffix(docFile, r.Ext)
}

// EntryFile returns the file path of a named folder entry.
func (r Resolver) EntryFile(dir, name string) string {
	return filepath.Join(dir, name) + r.Ext
}

// Stem returns the entry name of a folder entry path: the base name minus
// the document extension for files, the base name itself for directories.
func (r Resolver) Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, r.Ext)
}

// ResolveShape evaluates an output strategy against a concrete field value.
// SingleFile always yields ShapeFile, even for sequences. Folder yields
// ShapeFolder plus the ordered entry names: one per element for sequences
// and maps (map entries sorted by key), or one per externally-stored
// sub-field for a single nested model. elem is the registered table of the
// element (or nested) model type; it may be nil for ShapeFile.
func ResolveShape(ann *schema.FieldAnnotation, v reflect.Value, elem *schema.FieldTable) (Shape, []string, error) {
	if ann.Output == schema.OutputSingleFile {
		return ShapeFile, nil, nil
	}

	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ShapeFolder, nil, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		names := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			ev := reflect.Indirect(v.Index(i))
			name, err := elem.EntryName(ev)
			if err != nil {
				return ShapeFolder, nil, fmt.Errorf("entry %d: %w", i, err)
			}
			names = append(names, name)
		}
		return ShapeFolder, names, nil
	case reflect.Map:
		names := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			names = append(names, k.String())
		}
		sort.Strings(names)
		return ShapeFolder, names, nil
	case reflect.Struct:
		var names []string
		if elem.HasNormal() {
			names = append(names, elem.DocName())
		}
		for _, sub := range elem.Externals() {
			names = append(names, sub.RelName())
		}
		return ShapeFolder, names, nil
	default:
		return ShapeFolder, nil, fmt.Errorf("folder output over unsupported value kind %s", v.Kind())
	}
}
