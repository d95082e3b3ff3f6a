// Package watcher turns filesystem change notifications for a workspace
// into debounced batches of Events.
//
// FSWatcher uses fsnotify and watches every directory recursively.
// PollingWatcher diffs periodic snapshots and is used when fsnotify cannot
// be initialised or polling is requested (network mounts, container
// volumes). Both skip hidden and excluded directories; finer ignore rules
// are applied by the consumer when it re-checks each path.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Kind is the type of a change.
type Kind int

const (
	// Created reports a new file or directory.
	Created Kind = iota
	// Modified reports changed content.
	Modified
	// Removed reports a deleted file or directory.
	Removed
	// Renamed reports a move from OldPath to Path.
	Renamed
	// Overflow reports that notifications were lost. Path is empty and the
	// consumer must rescan the whole tree.
	Overflow
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event is one change below the watched root.
type Event struct {
	// Path is slash-separated and relative to the root.
	Path string
	// OldPath is set for Renamed events.
	OldPath string
	Kind    Kind
	IsDir   bool
	Time    time.Time
}

// Watcher delivers debounced event batches for one root.
type Watcher interface {
	// Start installs the watches and returns; events are delivered until
	// Stop is called or ctx ends.
	Start(ctx context.Context, root string) error
	// Events yields batches; it is closed on Stop.
	Events() <-chan []Event
	// Errors yields non-fatal errors; it is closed on Stop.
	Errors() <-chan error
	// Stop releases all watches. Safe to call more than once.
	Stop() error
}

// Options configures a watcher.
type Options struct {
	// Debounce is the coalescing window. Default 200ms.
	Debounce time.Duration
	// PollInterval is the snapshot interval in polling mode. Default 2s.
	PollInterval time.Duration
	// UsePolling forces polling even when fsnotify works.
	UsePolling bool
	// EventBufferSize bounds the number of undelivered batches. A consumer
	// that falls behind slows delivery; no batch is dropped. Default 64.
	EventBufferSize int
	// ExcludeDirs are directory names never watched, at any depth.
	ExcludeDirs []string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Debounce:        200 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// New returns an FSWatcher, or a PollingWatcher when polling is requested
// or fsnotify is unavailable.
func New(opts Options) Watcher {
	opts = opts.WithDefaults()
	if !opts.UsePolling {
		w, err := NewFSWatcher(opts)
		if err == nil {
			return w
		}
		slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
	}
	return NewPollingWatcher(opts)
}

// dirFilter decides which directories are never watched.
type dirFilter map[string]struct{}

func newDirFilter(names []string) dirFilter {
	f := make(dirFilter, len(names))
	for _, n := range names {
		f[n] = struct{}{}
	}
	return f
}

// skipName reports whether a directory with this base name is skipped.
func (f dirFilter) skipName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := f[name]
	return ok
}

// skipPath reports whether any directory component of rel is skipped.
// The final component is treated as a directory only when isDir is set.
func (f dirFilter) skipPath(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	if !isDir {
		parts = parts[:len(parts)-1]
	}
	for _, p := range parts {
		if f.skipName(p) {
			return true
		}
	}
	return false
}
