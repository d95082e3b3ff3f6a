package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
)

// BuildFunc does the indexing work, reporting scan progress to progress.
type BuildFunc func(ctx context.Context, progress index.ProgressFunc) (*index.Summary, error)

// BackgroundIndexer runs one build in a goroutine with progress tracking.
type BackgroundIndexer struct {
	build    BuildFunc
	progress *IndexProgress

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	mu      sync.Mutex
	started bool
	running bool
	summary *index.Summary
	err     error
}

// NewBackgroundIndexer creates an indexer that runs build when started.
func NewBackgroundIndexer(build BuildFunc) *BackgroundIndexer {
	return &BackgroundIndexer{
		build:    build,
		progress: NewIndexProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this indexer.
func (b *BackgroundIndexer) Progress() *IndexProgress {
	return b.progress
}

// IsRunning returns true while the build goroutine is active.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the build in a background goroutine and returns
// immediately. Only the first call has any effect.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sum, err := b.runBuild(ctx)
	if err == nil && sum == nil {
		sum = &index.Summary{}
	}

	b.mu.Lock()
	b.summary, b.err = sum, err
	b.mu.Unlock()

	if err != nil {
		b.progress.SetError(errorMessage(err))
		slog.Error("background_index_failed", yerrors.LogAttrs(err)...)
		return
	}
	b.progress.SetReady(sum)
	slog.Info("background_index_complete",
		slog.Int("indexed", sum.Indexed),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("removed", sum.Removed),
		slog.Duration("duration", sum.Duration))
}

// runBuild turns a panic in the build into an error.
func (b *BackgroundIndexer) runBuild(ctx context.Context) (sum *index.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			sum, err = nil, yerrors.InternalError("background index panicked", fmt.Errorf("%v", r))
		}
	}()
	return b.build(ctx, b.progress.Observe)
}

func errorMessage(err error) string {
	if ye, ok := yerrors.As(err); ok {
		return ye.Message
	}
	return err.Error()
}

// Stop cancels a running build and waits for it to return.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the build completes. It must follow Start.
func (b *BackgroundIndexer) Wait() (*index.Summary, error) {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary, b.err
}
