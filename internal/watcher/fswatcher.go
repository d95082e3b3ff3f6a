package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher watches a tree with fsnotify. New directories are added to the
// watch set as they appear and the files already inside them are reported
// as Created.
type FSWatcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	filter    dirFilter
	events    chan []Event
	errors    chan error
	stopCh    chan struct{}
	done      sync.WaitGroup
	root      string
	mu        sync.Mutex
	stopped   bool
}

var _ Watcher = (*FSWatcher)(nil)

// NewFSWatcher creates an fsnotify watcher. It fails when the platform
// cannot provide one.
func NewFSWatcher(opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FSWatcher{
		fs:        fsw,
		debouncer: NewDebouncer(opts.Debounce, opts.EventBufferSize),
		filter:    newDirFilter(opts.ExcludeDirs),
		events:    make(chan []Event, opts.EventBufferSize),
		errors:    make(chan error, 16),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start watches root recursively and returns once the watches are installed.
func (w *FSWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}
	w.root = abs

	if err := w.addTree(abs, nil); err != nil {
		return fmt.Errorf("add watches: %w", err)
	}

	w.done.Add(2)
	go w.loop(ctx)
	go w.forward(ctx)

	slog.Info("watch_started", slog.String("root", abs), slog.String("watcher", "fsnotify"))
	return nil
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer w.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *FSWatcher) forward(ctx context.Context) {
	defer w.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			select {
			case w.events <- batch:
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

// handle converts one fsnotify event. A rename reports the old name only;
// the new name arrives as a separate Create, so it is treated as Removed.
func (w *FSWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if w.filter.skipPath(rel, isDir) {
		return
	}

	var kind Kind
	switch {
	case ev.Has(fsnotify.Create):
		kind = Created
		if isDir {
			// Files may have landed before the watch existed.
			_ = w.addTree(ev.Name, func(file string) {
				w.debouncer.Add(Event{Path: file, Kind: Created, Time: time.Now()})
			})
		}
	case ev.Has(fsnotify.Write):
		kind = Modified
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = Removed
	default:
		return
	}

	w.debouncer.Add(Event{Path: rel, Kind: kind, IsDir: isDir, Time: time.Now()})
}

// addTree watches dir and every non-skipped directory below it. onFile, when
// set, receives the relative path of every regular file found.
func (w *FSWatcher) addTree(dir string, onFile func(rel string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.emitError(err)
			return nil
		}
		if !d.IsDir() {
			if onFile != nil && d.Type().IsRegular() {
				if rel, err := filepath.Rel(w.root, p); err == nil {
					onFile(filepath.ToSlash(rel))
				}
			}
			return nil
		}
		if p != w.root && w.filter.skipName(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			if p == dir {
				return err
			}
			w.emitError(fmt.Errorf("watch %s: %w", p, err))
		}
		return nil
	})
}

func (w *FSWatcher) emitError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		slog.Warn("watch_event_overflow", slog.String("root", w.root))
		w.debouncer.Add(Event{Kind: Overflow, Time: time.Now()})
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns the batch channel.
func (w *FSWatcher) Events() <-chan []Event { return w.events }

// Errors returns the error channel.
func (w *FSWatcher) Errors() <-chan error { return w.errors }

// Stop closes the fsnotify handle and both channels.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	err := w.fs.Close()
	w.debouncer.Stop()
	w.done.Wait()

	close(w.events)
	close(w.errors)
	return err
}
