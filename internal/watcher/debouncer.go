package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces events for the same path that arrive within the
// window and emits them as one batch once the window passes quietly:
//   - Created + Modified = Created
//   - Created + Removed = nothing
//   - Modified + Removed = Removed
//   - Removed + Created = Modified
//
// Renamed events are kept as the latest event for their new path.
type Debouncer struct {
	window  time.Duration
	pending map[string]Event
	mu      sync.Mutex
	output  chan []Event
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer. buffer bounds the number of undelivered
// batches. While Output is full, events stay pending and keep coalescing
// until a later flush can deliver them.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	if buffer <= 0 {
		buffer = 1
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]Event),
		output:  make(chan []Event, buffer),
	}
}

// Add records an event and restarts the window.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		merged, keep := coalesce(prev, ev)
		if keep {
			d.pending[ev.Path] = merged
		} else {
			delete(d.pending, ev.Path)
		}
	} else {
		d.pending[ev.Path] = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges next into prev. keep is false when the pair cancels.
func coalesce(prev, next Event) (Event, bool) {
	switch {
	case prev.Kind == Created && next.Kind == Modified:
		return prev, true
	case prev.Kind == Created && next.Kind == Removed:
		return Event{}, false
	case prev.Kind == Removed && next.Kind == Created:
		next.Kind = Modified
		return next, true
	default:
		return next, true
	}
}

// Flush emits pending events now.
func (d *Debouncer) Flush() {
	d.flush()
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	if len(d.output) == cap(d.output) {
		slog.Debug("debouncer_output_full", slog.Int("pending", len(d.pending)))
		if d.timer != nil {
			d.timer.Stop()
		}
		d.timer = time.AfterFunc(d.window, d.flush)
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	// Only flush sends, under d.mu, so the capacity check holds.
	d.output <- batch
}

// Output returns the channel of batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop discards pending events and closes Output. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
