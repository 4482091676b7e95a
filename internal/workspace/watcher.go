package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"canopy/pkg/logging"
)

// ChangeOp describes what happened to a document file on disk.
type ChangeOp int

const (
	OpCreate ChangeOp = iota
	OpUpdate
	OpDelete
)

// String makes ChangeOp satisfy the fmt.Stringer interface.
func (op ChangeOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent reports an external edit to a document file under the
// workspace root. Known is true when the path is currently bound in the
// identity map, so the caller can decide whether to re-load.
type ChangeEvent struct {
	Path      string
	Op        ChangeOp
	Known     bool
	Timestamp time.Time
}

const changeChannelBuffer = 64

type debounceEntry struct {
	event ChangeEvent
	timer *time.Timer
}

// Watch starts a change stream for document files under the workspace root.
// Events are debounced, so rapid successive writes to one file collapse into
// a single event. The stream ends when ctx is cancelled or the workspace is
// closed; once the channel closes the workspace may be watched again. Only
// one watch may be active per workspace at a time.
func (ws *Workspace) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	ws.watchMu.Lock()
	defer ws.watchMu.Unlock()
	if ws.watchStop != nil {
		return nil, fmt.Errorf("workspace %s is already watching", ws.name)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workspace: start watcher: %w", err)
	}
	if err := addWatchTree(fw, ws.root); err != nil {
		fw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	ws.watchStop = cancel
	ws.watchGen++
	gen := ws.watchGen

	ch := make(chan ChangeEvent, changeChannelBuffer)
	w := &watcher{
		ws:      ws,
		fw:      fw,
		fired:   make(chan ChangeEvent, changeChannelBuffer),
		pending: make(map[string]*debounceEntry),
	}
	go func() {
		w.run(watchCtx, ch)
		ws.watchMu.Lock()
		if ws.watchGen == gen {
			ws.watchStop = nil
		}
		ws.watchMu.Unlock()
		close(ch)
	}()

	logging.Info("Watcher", "Started watching %s for configuration changes", ws.root)
	return ch, nil
}

// addWatchTree watches dir and every subdirectory beneath it.
func addWatchTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("workspace: watch %s: %w", path, err)
			}
		}
		return nil
	})
}

type watcher struct {
	ws *Workspace
	fw *fsnotify.Watcher

	// fired carries debounced events from timer callbacks to the run
	// goroutine, which is the only sender on the caller's channel and the
	// only place it may be closed behind. fired itself is never closed; a
	// callback racing shutdown lands in its buffer and is dropped with it.
	fired chan ChangeEvent

	mu      sync.Mutex
	pending map[string]*debounceEntry
}

func (w *watcher) run(ctx context.Context, ch chan<- ChangeEvent) {
	defer func() {
		w.cleanup()
		w.fw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher", err, "Filesystem watcher error")

		case ev := <-w.fired:
			select {
			case ch <- ev:
				logging.Debug("Watcher", "Emitted %s for %s", ev.Op, ev.Path)
			default:
				logging.Warn("Watcher", "Change channel full, dropping event for %s", ev.Path)
			}
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	// New subdirectories join the watch so documents created beneath them
	// are seen.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.fw.Add(event.Name); err != nil {
				logging.Warn("Watcher", "Failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, w.ws.res.Ext) {
		return
	}

	var op ChangeOp
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpUpdate
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// The new name will trigger its own create.
		op = OpDelete
	default:
		return
	}

	w.ws.mu.Lock()
	_, known := w.ws.docs[event.Name]
	w.ws.mu.Unlock()

	w.debounce(ChangeEvent{
		Path:      event.Name,
		Op:        op,
		Known:     known,
		Timestamp: time.Now(),
	})
}

// debounce collapses rapid successive changes to one path into a single
// event carrying the merged operation. Fired timers hand their event to the
// run goroutine instead of sending on the caller's channel directly.
func (w *watcher) debounce(event ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.pending[event.Path]; ok {
		entry.timer.Stop()
		event.Op = mergeOps(entry.event.Op, event.Op)
	}

	timer := time.AfterFunc(w.ws.debounce, func() {
		w.mu.Lock()
		entry, ok := w.pending[event.Path]
		if ok {
			delete(w.pending, event.Path)
		}
		w.mu.Unlock()

		if !ok {
			return
		}
		select {
		case w.fired <- entry.event:
		default:
			logging.Warn("Watcher", "Event buffer full, dropping event for %s", entry.event.Path)
		}
	})
	w.pending[event.Path] = &debounceEntry{event: event, timer: timer}
}

func mergeOps(old, new ChangeOp) ChangeOp {
	if old == OpCreate {
		if new == OpDelete {
			return OpDelete
		}
		return OpCreate
	}
	if old == OpUpdate && new == OpDelete {
		return OpDelete
	}
	return new
}

func (w *watcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range w.pending {
		entry.timer.Stop()
	}
	w.pending = make(map[string]*debounceEntry)
}
