package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"canopy/internal/layout"
	"canopy/internal/schema"
	"canopy/pkg/logging"
)

// DefaultExtension is the engine-wide document extension. It is a Workspace
// convention tied to the serialization format, not a field annotation.
const DefaultExtension = ".canopy.yaml"

const defaultDebounce = 250 * time.Millisecond

// Workspace is the root context of one configuration tree. It owns the
// identity map of Documents keyed by resolved path, guaranteeing at most one
// live Document per path for its lifetime, and is the entry point for
// loading and saving a tree rooted at its root path.
//
// Workspaces are explicitly created and explicitly closed; two Workspaces in
// one process are fully independent.
type Workspace struct {
	name     string
	root     string
	res      layout.Resolver
	debounce time.Duration

	mu     sync.Mutex
	docs   map[string]*Document
	claims map[string]uint64 // path -> save epoch, duplicate-claim detection
	epoch  uint64
	closed bool

	loads singleflight.Group

	watchMu   sync.Mutex
	watchStop func()
	watchGen  uint64 // distinguishes an ended stream from its successor
}

// Option configures a Workspace.
type Option func(*Workspace) error

// WithExtension overrides the document extension, including the leading dot.
func WithExtension(ext string) Option {
	return func(ws *Workspace) error {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("workspace: extension %q must start with a dot", ext)
		}
		ws.res.Ext = ext
		return nil
	}
}

// WithDebounce sets the change-watcher debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(ws *Workspace) error {
		if d <= 0 {
			return fmt.Errorf("workspace: debounce must be positive")
		}
		ws.debounce = d
		return nil
	}
}

// New creates a Workspace rooted at root.
func New(name, root string, opts ...Option) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace: root path is empty")
	}
	if name == "" {
		name = filepath.Base(root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %s: %w", root, err)
	}

	ws := &Workspace{
		name:     name,
		root:     abs,
		res:      layout.Resolver{Ext: DefaultExtension},
		debounce: defaultDebounce,
		docs:     make(map[string]*Document),
		claims:   make(map[string]uint64),
	}
	for _, opt := range opts {
		if err := opt(ws); err != nil {
			return nil, err
		}
	}
	logging.Debug("Workspace", "Created workspace %s at %s", ws.name, ws.root)
	return ws, nil
}

// Name returns the workspace name.
func (ws *Workspace) Name() string { return ws.name }

// Root returns the absolute root path.
func (ws *Workspace) Root() string { return ws.root }

// Extension returns the document extension in use.
func (ws *Workspace) Extension() string { return ws.res.Ext }

// LoadRoot recomposes the configuration tree at the workspace root into
// model, which must be a non-nil pointer to an annotated struct. The root
// may be a directory (the usual case) or a direct document file.
func (ws *Workspace) LoadRoot(model any) error {
	ptr, table, err := ws.bind(model)
	if err != nil {
		return err
	}

	path, base := ws.rootNode(table)
	doc, err := ws.loadDocument(path, func() *Document {
		return &Document{
			id:      uuid.New(),
			ws:      ws,
			table:   table,
			value:   ptr,
			path:    path,
			base:    base,
			hasFile: table.HasNormal(),
		}
	})
	if err != nil {
		return err
	}
	if doc.value.Pointer() != ptr.Pointer() {
		ptr.Elem().Set(doc.value.Elem())
	}
	logging.Info("Workspace", "Loaded %s root from %s", table.Type.Name(), ws.root)
	return nil
}

// SaveRoot decomposes model into the configuration tree at the workspace
// root. Saving a different instance over a root already bound to another one
// fails with *PathConflictError.
func (ws *Workspace) SaveRoot(model any) error {
	ptr, table, err := ws.bind(model)
	if err != nil {
		return err
	}

	base := ws.root
	path := ws.res.DocFile(filepath.Join(base, table.DocName()))

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return fmt.Errorf("workspace %s is closed", ws.name)
	}
	if existing := ws.docs[path]; existing != nil && existing.value.Pointer() != ptr.Pointer() {
		ws.mu.Unlock()
		return &PathConflictError{Path: path}
	}
	ws.epoch++
	ws.claims = make(map[string]uint64)
	ws.mu.Unlock()

	if err := os.MkdirAll(base, 0755); err != nil {
		return fmt.Errorf("workspace: create root %s: %w", base, err)
	}

	_, err = ws.saveDocument(path, ptr, func() *Document {
		return &Document{
			id:      uuid.New(),
			ws:      ws,
			table:   table,
			value:   ptr,
			path:    path,
			base:    base,
			hasFile: table.HasNormal(),
		}
	})
	if err != nil {
		return err
	}
	logging.Info("Workspace", "Saved %s root to %s", table.Type.Name(), ws.root)
	return nil
}

func (ws *Workspace) bind(model any) (reflect.Value, *schema.FieldTable, error) {
	ptr := reflect.ValueOf(model)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("workspace: model must be a non-nil pointer to a struct, got %T", model)
	}
	table, err := schema.Register(ptr.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return ptr, table, nil
}

// rootNode decides the root document's file path: a regular file at the root
// path is itself the document; otherwise the root is a directory holding a
// type-named document file.
func (ws *Workspace) rootNode(table *schema.FieldTable) (path, base string) {
	if fi, err := os.Stat(ws.root); err == nil && !fi.IsDir() {
		return ws.root, ws.res.ChildBase(ws.root)
	}
	return ws.res.DocFile(filepath.Join(ws.root, table.DocName())), ws.root
}

// loadDocument returns the Document for path, loading it on first sight.
// Concurrent loads of the same path are deduplicated through singleflight;
// nested loads always descend to strictly longer paths, so one flight never
// re-enters its own key.
func (ws *Workspace) loadDocument(path string, mk func() *Document) (*Document, error) {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil, fmt.Errorf("workspace %s is closed", ws.name)
	}
	ws.mu.Unlock()

	v, err, _ := ws.loads.Do(path, func() (interface{}, error) {
		ws.mu.Lock()
		doc := ws.docs[path]
		created := false
		if doc == nil {
			doc = mk()
			ws.docs[path] = doc
			created = true
		}
		ws.mu.Unlock()

		if !created && doc.currentState() == stateLoaded {
			return doc, nil
		}
		if err := doc.load(); err != nil {
			if created {
				ws.forget(path)
			}
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// saveDocument registers path in the identity map and saves through the
// resulting Document. A path claimed twice within one save operation is a
// conflict (two fields resolving to the same location); across operations a
// Document rebinds to the current storage of its tree position.
func (ws *Workspace) saveDocument(path string, ptr reflect.Value, mk func() *Document) (*Document, error) {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil, fmt.Errorf("workspace %s is closed", ws.name)
	}
	if ws.claims[path] == ws.epoch {
		ws.mu.Unlock()
		return nil, &PathConflictError{Path: path}
	}
	ws.claims[path] = ws.epoch

	doc := ws.docs[path]
	created := false
	if doc == nil {
		doc = mk()
		ws.docs[path] = doc
		created = true
	}
	ws.mu.Unlock()

	if err := doc.save(ptr); err != nil {
		if created {
			ws.forget(path)
		}
		return nil, err
	}
	return doc, nil
}

func (ws *Workspace) forget(path string) {
	ws.mu.Lock()
	delete(ws.docs, path)
	ws.mu.Unlock()
}

// Release drops the Document bound to path from the identity map, so a
// subsequent load re-reads it from disk.
func (ws *Workspace) Release(path string) {
	ws.forget(path)
}

// DocumentInfo is a point-in-time view of one identity-map entry.
type DocumentInfo struct {
	ID    uuid.UUID
	Path  string
	Model string // model type name, "leaf" for opaque value documents
	State string
}

// Documents returns a snapshot of the identity map, sorted by path.
func (ws *Workspace) Documents() []DocumentInfo {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	out := make([]DocumentInfo, 0, len(ws.docs))
	for _, doc := range ws.docs {
		model := "leaf"
		if doc.table != nil {
			model = doc.table.Type.Name()
		}
		out = append(out, DocumentInfo{
			ID:    doc.id,
			Path:  doc.path,
			Model: model,
			State: doc.currentState().String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Close tears down the workspace: the identity map is released and the
// watcher, if any, is stopped. Further loads and saves fail.
func (ws *Workspace) Close() error {
	ws.watchMu.Lock()
	if ws.watchStop != nil {
		ws.watchStop()
		ws.watchStop = nil
	}
	ws.watchMu.Unlock()

	ws.mu.Lock()
	ws.closed = true
	ws.docs = make(map[string]*Document)
	ws.claims = make(map[string]uint64)
	ws.mu.Unlock()

	logging.Debug("Workspace", "Closed workspace %s", ws.name)
	return nil
}
