package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Names the watcher never descends into, whatever the filter says.
var alwaysSkip = map[string]bool{".git": true, ".vgrep": true}

// FSWatcher watches a directory tree with fsnotify. New directories are
// added as they appear.
type FSWatcher struct {
	root      string
	filter    Filter
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errs      chan error

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// NewFSWatcher creates a watcher for root. filter may be nil.
func NewFSWatcher(root string, filter Filter, opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FSWatcher{
		root:      abs,
		filter:    filter,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		errs:      make(chan error, opts.EventBufferSize),
		done:      make(chan struct{}),
	}, nil
}

// Start registers every directory of the tree and begins forwarding
// events in the background. It returns once watches are in place. The
// watcher stops when ctx is cancelled or Stop is called.
func (w *FSWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addTree(w.root, false); err != nil {
		_ = w.Stop()
		return err
	}

	go w.loop(ctx)
	return nil
}

// Events delivers debounced batches sorted by path.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors delivers non-fatal watch errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errs
}

// Stop releases the fsnotify handle and closes both channels.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	w.debouncer.Stop()
	close(w.errs)
	return err
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			go func() { _ = w.Stop() }()
			w.drain()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				slog.Warn("watch_error_dropped", slog.String("error", err.Error()))
			}
		}
	}
}

// drain consumes fsnotify channels until Close shuts them.
func (w *FSWatcher) drain() {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	rel, ok := w.rel(ev.Name)
	if !ok {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	base := path.Base(rel)
	if base == ".gitignore" || base == ".vgrepignore" {
		if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
			w.emit(rel, OpIgnoreChange, false)
		}
		return
	}
	if w.skipped(rel, isDir) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir {
			// Files may land before the watch does; report them as created.
			if err := w.addTree(ev.Name, true); err != nil {
				slog.Warn("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
			return
		}
		w.emit(rel, OpCreate, false)
	case ev.Op&fsnotify.Write != 0:
		if !isDir {
			w.emit(rel, OpModify, false)
		}
	case ev.Op&fsnotify.Remove != 0:
		w.emit(rel, OpDelete, isDir)
	case ev.Op&fsnotify.Rename != 0:
		w.emit(rel, OpRename, isDir)
	}
}

func (w *FSWatcher) emit(rel string, op Operation, isDir bool) {
	w.debouncer.Add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// addTree watches dir and every non-skipped directory below it. When
// announce is set, files found on the way are reported as created.
func (w *FSWatcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		rel, ok := w.rel(p)
		if d.IsDir() {
			if ok && w.skipped(rel, true) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			return nil
		}
		if announce && ok && !w.skipped(rel, false) {
			w.emit(rel, OpCreate, false)
		}
		return nil
	})
}

func (w *FSWatcher) skipped(rel string, isDir bool) bool {
	first, _, _ := strings.Cut(rel, "/")
	if alwaysSkip[first] {
		return true
	}
	return w.filter != nil && w.filter.Ignored(rel, isDir)
}

func (w *FSWatcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
