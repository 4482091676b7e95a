package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"canopy/internal/layout"
	"canopy/internal/schema"
	"canopy/pkg/logging"
)

type docState int

const (
	stateUnbound docState = iota
	stateLoading
	stateLoaded
	stateSaving
)

// String makes docState satisfy the fmt.Stringer interface.
func (s docState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateLoading:
		return "loading"
	case stateLoaded:
		return "loaded"
	case stateSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// Document binds one model value to one resolved filesystem path and owns
// the load/save of that single node, including the recursive handling of its
// External and Implied fields.
//
// A Document with a nil table is a leaf: an opaque YAML value (a single-file
// sequence, map, or scalar) with no decomposition of its own.
type Document struct {
	id    uuid.UUID
	ws    *Workspace
	table *schema.FieldTable
	value reflect.Value // pointer to the bound value
	path  string        // canonical document file path; identity-map key
	base  string        // directory owning this document's external children

	// hasFile is false for models without inline fields: they write no
	// document file of their own, only their children.
	hasFile bool

	// parent back-reference, for error context only. Never an ownership
	// edge: child documents are owned by the workspace identity map.
	parentPath  string
	parentField string

	mu    sync.Mutex
	state docState
}

// ID returns the document's correlation id.
func (d *Document) ID() uuid.UUID { return d.id }

// Path returns the document's resolved file path.
func (d *Document) Path() string { return d.path }

// spawn creates a child document bound to ptr. A nil table makes a leaf.
func (d *Document) spawn(path, base string, table *schema.FieldTable, ptr reflect.Value, field string) *Document {
	return &Document{
		id:          uuid.New(),
		ws:          d.ws,
		table:       table,
		value:       ptr,
		path:        path,
		base:        base,
		hasFile:     table == nil || table.HasNormal(),
		parentPath:  d.path,
		parentField: field,
	}
}

// begin enters a transient state. Loading and Saving are not re-entrant: a
// load that reaches a document already mid-load is a cycle through the
// identity map.
func (d *Document) begin(next docState) (docState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateLoading || d.state == stateSaving {
		return d.state, &PathConflictError{Path: d.path, Field: d.parentField}
	}
	prev := d.state
	d.state = next
	return prev, nil
}

func (d *Document) finish(prev docState, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = prev
		return
	}
	d.state = stateLoaded
}

func (d *Document) currentState() docState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// load reads the node at the document's bound path and populates the bound
// value. Path binding precedes population, so implied fields can be derived
// from the document's own path.
func (d *Document) load() error {
	prev, err := d.begin(stateLoading)
	if err != nil {
		return err
	}
	err = d.populate()
	d.finish(prev, err)
	if err == nil {
		logging.Debug("Document", "Loaded %s (%s)", d.path, d.id)
	}
	return err
}

func (d *Document) populate() error {
	if d.table == nil {
		data, err := os.ReadFile(d.path)
		if err != nil {
			return fmt.Errorf("read %s: %w", d.path, err)
		}
		if err := yaml.Unmarshal(data, d.value.Interface()); err != nil {
			return fmt.Errorf("parse %s: %w", d.path, err)
		}
		return nil
	}

	if d.hasFile {
		data, err := os.ReadFile(d.path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, d.value.Interface()); err != nil {
				return fmt.Errorf("parse %s: %w", d.path, err)
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("read %s: %w", d.path, err)
		}
		// A missing document file leaves inline fields at their zero
		// values; the node may still have external children on disk.
	}

	v := d.value.Elem()
	for _, spec := range d.table.Externals() {
		if err := d.loadExternal(spec, v.Field(spec.Index)); err != nil {
			return err
		}
	}
	for _, spec := range d.table.Implieds() {
		val, err := layout.ComputeImplied(spec.Annotation.Implied, d.path, d.ws.res.Ext)
		if err != nil {
			var ire *layout.ImpliedResolutionError
			if errors.As(err, &ire) {
				ire.Field = spec.Key
			}
			return err
		}
		v.Field(spec.Index).SetString(val)
	}
	return nil
}

func (d *Document) loadExternal(spec schema.FieldSpec, fv reflect.Value) error {
	target, err := d.ws.res.Resolve(d.base, spec.Annotation, spec.Key)
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			if spec.Optional() {
				logging.Debug("Document", "Optional field %s has no resource at %s", spec.Key, target)
				return nil
			}
			return &MissingExternalResourceError{Path: target, Field: spec.Key}
		}
		return fmt.Errorf("field %s: stat %s: %w", spec.Key, target, err)
	}

	if spec.Annotation.Output == schema.OutputFolder {
		return d.loadFolder(spec, fv, target)
	}
	return d.loadSingleFile(spec, fv, target)
}

func (d *Document) loadSingleFile(spec schema.FieldSpec, fv reflect.Value, target string) error {
	if derefType(spec.Type).Kind() == reflect.Struct {
		table, err := schema.Register(spec.Type)
		if err != nil {
			return err
		}
		ptr := ensurePtr(fv)
		doc, err := d.ws.loadDocument(target, func() *Document {
			return d.spawn(target, d.ws.res.ChildBase(target), table, ptr, spec.Key)
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", spec.Key, err)
		}
		adopt(fv, doc.value)
		return nil
	}

	// Leaf value: the whole sequence, map, or scalar lives in one file.
	ptr := fv.Addr()
	doc, err := d.ws.loadDocument(target, func() *Document {
		return d.spawn(target, d.ws.res.ChildBase(target), nil, ptr, spec.Key)
	})
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}
	adopt(fv, doc.value)
	return nil
}

func (d *Document) loadFolder(spec schema.FieldSpec, fv reflect.Value, dir string) error {
	switch fv.Kind() {
	case reflect.Slice:
		return d.loadFolderSlice(spec, fv, dir)
	case reflect.Map:
		return d.loadFolderMap(spec, fv, dir)
	default:
		table, err := schema.Register(spec.Type)
		if err != nil {
			return err
		}
		ptr := ensurePtr(fv)
		path := d.ws.res.DocFile(filepath.Join(dir, table.DocName()))
		doc, err := d.ws.loadDocument(path, func() *Document {
			return d.spawn(path, dir, table, ptr, spec.Key)
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", spec.Key, err)
		}
		adopt(fv, doc.value)
		return nil
	}
}

func (d *Document) loadFolderSlice(spec schema.FieldSpec, fv reflect.Value, dir string) error {
	elemType := fv.Type().Elem()
	table, err := schema.Register(elemType)
	if err != nil {
		return err
	}

	names, err := d.listEntries(dir, table.EntryIsDir())
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}

	out := reflect.MakeSlice(fv.Type(), len(names), len(names))
	for i, name := range names {
		ev := out.Index(i)
		ptr := ensurePtr(ev)
		path, base := d.entryNode(dir, name, table)
		doc, err := d.ws.loadDocument(path, func() *Document {
			return d.spawn(path, base, table, ptr, spec.Key)
		})
		if err != nil {
			return fmt.Errorf("field %s entry %s: %w", spec.Key, name, err)
		}
		adopt(ev, doc.value)
	}
	fv.Set(out)
	return nil
}

func (d *Document) loadFolderMap(spec schema.FieldSpec, fv reflect.Value, dir string) error {
	elemType := fv.Type().Elem()
	table, err := schema.Register(elemType)
	if err != nil {
		return err
	}

	names, err := d.listEntries(dir, false)
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}

	out := reflect.MakeMap(fv.Type())
	for _, name := range names {
		ptr := reflect.New(derefType(elemType))
		path := d.ws.res.EntryFile(dir, name)
		doc, err := d.ws.loadDocument(path, func() *Document {
			return d.spawn(path, d.ws.res.ChildBase(path), table, ptr, spec.Key)
		})
		if err != nil {
			return fmt.Errorf("field %s entry %s: %w", spec.Key, name, err)
		}
		ev := doc.value
		if elemType.Kind() == reflect.Ptr {
			out.SetMapIndex(reflect.ValueOf(name), ev)
		} else {
			out.SetMapIndex(reflect.ValueOf(name), ev.Elem())
		}
	}
	fv.Set(out)
	return nil
}

// listEntries enumerates folder entries in lexical order: subdirectories for
// directory-shaped entries, files carrying the document extension otherwise.
func (d *Document) listEntries(dir string, dirs bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if dirs {
			if e.IsDir() {
				names = append(names, e.Name())
			}
			continue
		}
		if !e.IsDir() && strings.HasSuffix(e.Name(), d.ws.res.Ext) {
			names = append(names, d.ws.res.Stem(e.Name()))
		}
	}
	return names, nil
}

// entryNode computes the document file and child base of one folder entry.
func (d *Document) entryNode(dir, name string, table *schema.FieldTable) (path, base string) {
	if table.EntryIsDir() {
		base = filepath.Join(dir, name)
		return d.ws.res.DocFile(filepath.Join(base, table.DocName())), base
	}
	path = d.ws.res.EntryFile(dir, name)
	return path, d.ws.res.ChildBase(path)
}

// save writes the node to its bound path: inline fields as one YAML document
// (written atomically), external children recursively, implied fields never.
// ptr is the instance being saved; the document rebinds to its storage only
// after the save owns the transient state, so a rejected concurrent save
// never leaves the document pointing at the loser's instance.
func (d *Document) save(ptr reflect.Value) error {
	prev, err := d.begin(stateSaving)
	if err != nil {
		return err
	}
	if d.value.Pointer() != ptr.Pointer() {
		d.value = ptr
	}
	err = d.flush()
	d.finish(prev, err)
	if err == nil {
		logging.Debug("Document", "Saved %s (%s)", d.path, d.id)
	}
	return err
}

func (d *Document) flush() error {
	if d.table == nil {
		data, err := yaml.Marshal(d.value.Interface())
		if err != nil {
			return fmt.Errorf("serialize %s: %w", d.path, err)
		}
		return writeFileAtomic(d.path, data)
	}

	if d.hasFile {
		// External and implied fields carry yaml:"-", so marshaling the
		// instance yields exactly the inline document.
		data, err := yaml.Marshal(d.value.Interface())
		if err != nil {
			return fmt.Errorf("serialize %s: %w", d.path, err)
		}
		if err := writeFileAtomic(d.path, data); err != nil {
			return err
		}
	}

	v := d.value.Elem()
	for _, spec := range d.table.Externals() {
		if err := d.saveExternal(spec, v.Field(spec.Index)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) saveExternal(spec schema.FieldSpec, fv reflect.Value) error {
	target, err := d.ws.res.Resolve(d.base, spec.Annotation, spec.Key)
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}

	if fv.Kind() == reflect.Ptr && fv.IsNil() {
		if spec.Optional() {
			return nil
		}
		return fmt.Errorf("field %s: nil value for required external field", spec.Key)
	}

	if spec.Annotation.Output == schema.OutputFolder {
		return d.saveFolder(spec, fv, target)
	}
	return d.saveSingleFile(spec, fv, target)
}

func (d *Document) saveSingleFile(spec schema.FieldSpec, fv reflect.Value, target string) error {
	if derefType(spec.Type).Kind() == reflect.Struct {
		table, err := schema.Register(spec.Type)
		if err != nil {
			return err
		}
		ptr := ensurePtr(fv)
		_, err = d.ws.saveDocument(target, ptr, func() *Document {
			return d.spawn(target, d.ws.res.ChildBase(target), table, ptr, spec.Key)
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", spec.Key, err)
		}
		return nil
	}

	ptr := fv.Addr()
	if _, err := d.ws.saveDocument(target, ptr, func() *Document {
		return d.spawn(target, d.ws.res.ChildBase(target), nil, ptr, spec.Key)
	}); err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}
	return nil
}

func (d *Document) saveFolder(spec schema.FieldSpec, fv reflect.Value, dir string) error {
	switch fv.Kind() {
	case reflect.Slice:
		return d.saveFolderSlice(spec, fv, dir)
	case reflect.Map:
		return d.saveFolderMap(spec, fv, dir)
	default:
		table, err := schema.Register(spec.Type)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("field %s: create %s: %w", spec.Key, dir, err)
		}
		ptr := ensurePtr(fv)
		path := d.ws.res.DocFile(filepath.Join(dir, table.DocName()))
		if _, err := d.ws.saveDocument(path, ptr, func() *Document {
			return d.spawn(path, dir, table, ptr, spec.Key)
		}); err != nil {
			return fmt.Errorf("field %s: %w", spec.Key, err)
		}
		return nil
	}
}

func (d *Document) saveFolderSlice(spec schema.FieldSpec, fv reflect.Value, dir string) error {
	table, err := schema.Register(fv.Type().Elem())
	if err != nil {
		return err
	}

	// Entry names are derived up front so naming failures surface before
	// any entry touches the disk.
	_, names, err := layout.ResolveShape(spec.Annotation, fv, table)
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("field %s: create %s: %w", spec.Key, dir, err)
	}

	// Sibling entry paths are disjoint, so entries are written
	// concurrently. The identity map is the only shared state and is
	// mutex-guarded in the workspace.
	var (
		g       errgroup.Group
		writeMu sync.Mutex
		written []string
	)
	for i := 0; i < fv.Len(); i++ {
		i := i
		g.Go(func() error {
			ev := fv.Index(i)
			ptr := ensurePtr(ev)
			path, base := d.entryNode(dir, names[i], table)
			if table.EntryIsDir() {
				if err := os.MkdirAll(base, 0755); err != nil {
					return fmt.Errorf("entry %s: %w", names[i], err)
				}
			}
			if _, err := d.ws.saveDocument(path, ptr, func() *Document {
				return d.spawn(path, base, table, ptr, spec.Key)
			}); err != nil {
				return fmt.Errorf("entry %s: %w", names[i], err)
			}
			writeMu.Lock()
			written = append(written, names[i])
			writeMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Strings(written)
		return fmt.Errorf("field %s: %w", spec.Key,
			&PartialWriteError{Dir: dir, Written: written, Err: err})
	}
	return nil
}

func (d *Document) saveFolderMap(spec schema.FieldSpec, fv reflect.Value, dir string) error {
	elemType := fv.Type().Elem()
	table, err := schema.Register(elemType)
	if err != nil {
		return err
	}

	_, keys, err := layout.ResolveShape(spec.Annotation, fv, table)
	if err != nil {
		return fmt.Errorf("field %s: %w", spec.Key, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("field %s: create %s: %w", spec.Key, dir, err)
	}

	var (
		g       errgroup.Group
		writeMu sync.Mutex
		written []string
	)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			// Map values are not addressable: each entry is saved
			// through its own storage.
			ev := fv.MapIndex(reflect.ValueOf(key))
			var ptr reflect.Value
			if elemType.Kind() == reflect.Ptr {
				if ev.IsNil() {
					return fmt.Errorf("entry %s: nil value", key)
				}
				ptr = ev
			} else {
				ptr = reflect.New(elemType)
				ptr.Elem().Set(ev)
			}
			path := d.ws.res.EntryFile(dir, key)
			if _, err := d.ws.saveDocument(path, ptr, func() *Document {
				return d.spawn(path, d.ws.res.ChildBase(path), table, ptr, spec.Key)
			}); err != nil {
				return fmt.Errorf("entry %s: %w", key, err)
			}
			writeMu.Lock()
			written = append(written, key)
			writeMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Strings(written)
		return fmt.Errorf("field %s: %w", spec.Key,
			&PartialWriteError{Dir: dir, Written: written, Err: err})
	}
	return nil
}

// writeFileAtomic writes data via a temp file in the target directory and
// renames it into place, so a crash mid-write never leaves a corrupt partial
// file at path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".canopy-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmpName, 0644)
	}
	if werr == nil {
		werr = os.Rename(tmpName, path)
	}
	if werr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, werr)
	}
	return nil
}

// ensurePtr returns a pointer to v's storage, allocating pointer fields on
// first use.
func ensurePtr(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return v
	}
	return v.Addr()
}

// adopt assigns a document's bound value to a field, handling the case where
// the identity map returned a document bound to other storage.
func adopt(fv reflect.Value, ptr reflect.Value) {
	if fv.Kind() == reflect.Ptr {
		if fv.Pointer() != ptr.Pointer() {
			fv.Set(ptr)
		}
		return
	}
	if fv.Addr().Pointer() != ptr.Pointer() {
		fv.Set(ptr.Elem())
	}
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
