package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// PollingWatcher detects changes by diffing snapshots of the tree taken
// every PollInterval. Each diff is already coalesced and is emitted as one
// batch. A file that disappears while another with the same size and
// modification time appears in the same interval is reported as Renamed.
type PollingWatcher struct {
	interval time.Duration
	filter   dirFilter
	state    map[string]fileSnapshot
	events   chan []Event
	errors   chan error
	stopCh   chan struct{}
	done     sync.WaitGroup
	root     string
	mu       sync.Mutex
	stopped  bool
}

var _ Watcher = (*PollingWatcher)(nil)

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher.
func NewPollingWatcher(opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		interval: opts.PollInterval,
		filter:   newDirFilter(opts.ExcludeDirs),
		state:    make(map[string]fileSnapshot),
		events:   make(chan []Event, opts.EventBufferSize),
		errors:   make(chan error, 16),
		stopCh:   make(chan struct{}),
	}
}

// Start takes the baseline snapshot and starts polling.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return fmt.Errorf("stat root: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}
	p.root = abs

	state, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.state = state

	p.done.Add(1)
	go p.loop(ctx)

	slog.Info("watch_started", slog.String("root", abs), slog.String("watcher", "polling"),
		slog.Duration("interval", p.interval))
	return nil
}

func (p *PollingWatcher) loop(ctx context.Context) {
	defer p.done.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll takes a snapshot, diffs it against the previous one and emits the
// changes.
func (p *PollingWatcher) poll(ctx context.Context) {
	current, err := p.snapshot()
	if err != nil {
		p.emitError(err)
		return
	}
	batch := diffSnapshots(p.state, current, time.Now())
	p.state = current
	if len(batch) > 0 {
		p.emit(ctx, batch)
	}
}

func (p *PollingWatcher) snapshot() (map[string]fileSnapshot, error) {
	out := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		if path == p.root {
			return nil
		}
		if d.IsDir() && p.filter.skipName(d.Name()) {
			return filepath.SkipDir
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return nil
		}
		out[filepath.ToSlash(rel)] = fileSnapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return out, err
}

// diffSnapshots lists the changes from prev to cur in path order.
func diffSnapshots(prev, cur map[string]fileSnapshot, now time.Time) []Event {
	var created, removed []string
	var batch []Event
	for path, s := range cur {
		old, ok := prev[path]
		switch {
		case !ok:
			created = append(created, path)
		case !s.isDir && (old.modTime != s.modTime || old.size != s.size):
			batch = append(batch, Event{Path: path, Kind: Modified, Time: now})
		}
	}
	for path := range prev {
		if _, ok := cur[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(created)
	sort.Strings(removed)

	renamedFrom := make(map[string]string)
	used := make(map[string]bool)
	for _, c := range created {
		cs := cur[c]
		if cs.isDir {
			continue
		}
		for _, r := range removed {
			rs := prev[r]
			if used[r] || rs.isDir || rs.size != cs.size || !rs.modTime.Equal(cs.modTime) {
				continue
			}
			renamedFrom[c] = r
			used[r] = true
			break
		}
	}

	for _, c := range created {
		if old, ok := renamedFrom[c]; ok {
			batch = append(batch, Event{Path: c, OldPath: old, Kind: Renamed, Time: now})
			continue
		}
		batch = append(batch, Event{Path: c, Kind: Created, IsDir: cur[c].isDir, Time: now})
	}
	for _, r := range removed {
		if used[r] {
			continue
		}
		batch = append(batch, Event{Path: r, Kind: Removed, IsDir: prev[r].isDir, Time: now})
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// emit blocks until the consumer takes the batch, which delays the next
// poll rather than losing the diff.
func (p *PollingWatcher) emit(ctx context.Context, batch []Event) {
	select {
	case p.events <- batch:
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

func (p *PollingWatcher) emitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}

// Events returns the batch channel.
func (p *PollingWatcher) Events() <-chan []Event { return p.events }

// Errors returns the error channel.
func (p *PollingWatcher) Errors() <-chan error { return p.errors }

// Stop ends polling and closes both channels.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	p.done.Wait()
	close(p.events)
	close(p.errors)
	return nil
}
