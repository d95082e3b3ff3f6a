package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// plainEvery is how many files pass between plain progress lines.
const plainEvery = 500

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	stage     Stage
	lastFiles int
	errors    []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, stage: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress prints on stage changes, messages and every plainEvery
// files.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := event.Stage != r.stage
	r.stage = event.Stage

	switch {
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
	case event.Files > 0 && (changed || event.Files-r.lastFiles >= plainEvery):
		r.lastFiles = event.Files
		_, _ = fmt.Fprintf(r.out, "[%s] %d files (%d indexed, %d unchanged)\n",
			event.Stage.Icon(), event.Files, event.Indexed, event.Unchanged)
	case changed:
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Stage)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d indexed, %d unchanged, %d removed in %s",
		stats.Indexed, stats.Unchanged, stats.Removed, stats.Duration.Round(100*time.Millisecond))
	if stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d skipped)", stats.Skipped)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Mode != "" {
		_, _ = fmt.Fprintf(r.out, "Mode: %s", stats.Mode)
		if stats.VectorStatus != "" {
			_, _ = fmt.Fprintf(r.out, " (vectors %s", stats.VectorStatus)
			if stats.Model != "" {
				_, _ = fmt.Fprintf(r.out, ", %s", stats.Model)
			}
			_, _ = fmt.Fprint(r.out, ")")
		}
		if stats.Chunks > 0 {
			_, _ = fmt.Fprintf(r.out, ", %d chunks embedded", stats.Chunks)
		}
		_, _ = fmt.Fprintln(r.out)
	}
	for _, w := range stats.Warnings {
		_, _ = fmt.Fprintf(r.out, "WARN: %s\n", w)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
