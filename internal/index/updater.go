package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/ygrep/internal/embed"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/walker"
	"github.com/Aman-CERP/ygrep/internal/watcher"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// Updater applies file change events to an existing index. It holds the
// workspace writer lock from NewUpdater until Close.
type Updater struct {
	// OnBatch, when set, is called by Run after each applied batch.
	OnBatch func(*Summary)

	b      *Builder
	lock   *workspace.Lock
	h      *Handles
	emb    embed.Embedder
	sess   *session
	walker *walker.Walker

	mu     sync.Mutex
	closed bool
}

// NewUpdater opens ws for incremental updates. The index must exist; an
// index that needs rebuilding is reported with its error code.
func (b *Builder) NewUpdater(ctx context.Context, ws *workspace.Workspace) (*Updater, error) {
	lock, err := b.store.Lock(ws)
	if err != nil {
		return nil, err
	}
	return b.newUpdater(ctx, ws, lock)
}

// BuildUpdater builds ws and opens it for updates under one writer lock,
// so no other writer can run between the two.
func (b *Builder) BuildUpdater(ctx context.Context, ws *workspace.Workspace, opts BuildOptions) (*Summary, *Updater, error) {
	lock, err := b.store.Lock(ws)
	if err != nil {
		return nil, nil, err
	}
	sum, err := b.buildLocked(ctx, ws, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}
	u, err := b.newUpdater(ctx, ws, lock)
	if err != nil {
		return nil, nil, err
	}
	return sum, u, nil
}

// newUpdater takes ownership of lock; it is released on error or Close.
func (b *Builder) newUpdater(ctx context.Context, ws *workspace.Workspace, lock *workspace.Lock) (*Updater, error) {
	u := &Updater{b: b, lock: lock}
	if err := u.open(ctx, ws); err != nil {
		_ = u.Close()
		return nil, err
	}
	return u, nil
}

func (u *Updater) open(ctx context.Context, ws *workspace.Workspace) error {
	meta, err := u.b.store.Open(ws)
	if err != nil {
		return err
	}
	if u.h, err = Open(ws, meta, u.b.cfg); err != nil {
		return err
	}
	if u.walker, err = u.b.walker(); err != nil {
		return yerrors.InternalError("create walker", err)
	}

	if meta.HasVectors() {
		u.emb, err = u.b.openEmbedder(ctx)
		switch {
		case err == nil:
			if u.emb.ModelName() != meta.EmbeddingModel || u.emb.Dimensions() != meta.Dimensions {
				return yerrors.New(yerrors.ErrCodeSchemaMismatch,
					"index was built with embedding model "+meta.EmbeddingModel, nil).
					WithSuggestion("Run 'ygrep index --rebuild' to re-embed with " + u.emb.ModelName())
			}
		case yerrors.GetCode(err) == yerrors.ErrCodeUnsupported:
			slog.Warn("vector_fallback_text", yerrors.LogAttrs(err)...)
			u.h.dropVectors()
			meta.VectorStatus = workspace.VectorUnsupported
			meta.EmbeddingModel, meta.Dimensions, meta.ChunkCount = "", 0, 0
			if err := u.b.store.SaveMetadata(ws, meta); err != nil {
				return err
			}
		default:
			return err
		}
	}

	u.sess = newSession(u.h, u.emb, u.b.cfg)
	return nil
}

// Handles returns the open stores. They remain owned by the updater.
func (u *Updater) Handles() *Handles {
	return u.h
}

// Apply re-checks every path named by events and commits the changes in
// one batch. A change to an ignore file or an Overflow event reconciles the
// whole tree.
func (u *Updater) Apply(ctx context.Context, events []watcher.Event) (*Summary, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, yerrors.InternalError("updater is closed", nil)
	}

	start := time.Now()
	sum := &Summary{}
	paths := affectedPaths(events)

	switch {
	case slices.ContainsFunc(events, func(ev watcher.Event) bool { return ev.Kind == watcher.Overflow }):
		slog.Warn("watch_events_lost", slog.Int("events", len(events)))
		if err := u.sess.scan(ctx, u.walker, u.b.cfg.Workers(), sum, nil); err != nil {
			return nil, err
		}
	case slices.ContainsFunc(paths, isIgnoreFile):
		slog.Info("ignore_rules_changed", slog.Int("events", len(events)))
		if err := u.sess.scan(ctx, u.walker, u.b.cfg.Workers(), sum, nil); err != nil {
			return nil, err
		}
	default:
		if err := u.applyPaths(ctx, paths, sum); err != nil {
			return nil, err
		}
	}
	if err := u.commit(ctx, sum, start); err != nil {
		return nil, err
	}

	slog.Info("watch_batch_applied",
		slog.Int("events", len(events)),
		slog.Int("indexed", sum.Indexed),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("removed", sum.Removed),
		slog.Int("skipped", sum.Skipped),
		slog.Duration("duration", sum.Duration))
	return sum, nil
}

// Reconcile compares the whole tree with the index and applies the
// differences.
func (u *Updater) Reconcile(ctx context.Context) (*Summary, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, yerrors.InternalError("updater is closed", nil)
	}

	start := time.Now()
	sum := &Summary{}
	if err := u.sess.scan(ctx, u.walker, u.b.cfg.Workers(), sum, nil); err != nil {
		return nil, err
	}
	if err := u.commit(ctx, sum, start); err != nil {
		return nil, err
	}
	slog.Info("watch_reconciled",
		slog.Int("indexed", sum.Indexed),
		slog.Int("removed", sum.Removed),
		slog.Duration("duration", sum.Duration))
	return sum, nil
}

// commit persists a changed batch and completes sum.
func (u *Updater) commit(ctx context.Context, sum *Summary, start time.Time) error {
	if sum.Changed() {
		if sum.VectorStatus == workspace.VectorUnsupported {
			u.h.Meta.VectorStatus = workspace.VectorUnsupported
			u.h.Meta.EmbeddingModel, u.h.Meta.Dimensions = "", 0
		}
		u.h.Meta.UpdatedAt = time.Now().UTC()
		if err := u.sess.finish(ctx, u.b.store); err != nil {
			return err
		}
	}
	sum.Duration = time.Since(start)
	sum.VectorStatus = u.h.Meta.VectorStatus
	return nil
}

func (u *Updater) applyPaths(ctx context.Context, paths []string, sum *Summary) error {
	known, err := u.h.Catalog.Hashes(ctx)
	if err != nil {
		return err
	}

	root := u.h.Workspace.Root
	var upserts []*prepared
	deleted := make(map[string]struct{})
	remove := func(id string) {
		if _, ok := known[id]; ok {
			deleted[id] = struct{}{}
		}
	}

	for _, rel := range paths {
		c, err := u.walker.Candidate(root, rel)
		switch {
		case errors.Is(err, walker.ErrMissing):
			remove(rel)
			prefix := rel + "/"
			for id := range known {
				if strings.HasPrefix(id, prefix) {
					deleted[id] = struct{}{}
				}
			}
		case errors.Is(err, walker.ErrExcluded):
			if isDir(filepath.Join(root, filepath.FromSlash(rel))) {
				continue
			}
			remove(rel)
		case err != nil:
			sum.fail(rel, err)
		default:
			p, err := u.sess.prepare(c, known[c.Path])
			switch {
			case err != nil:
				sum.fail(c.Path, err)
			case p == nil:
				sum.Unchanged++
			default:
				upserts = append(upserts, p)
			}
		}
	}

	deletes := make([]string, 0, len(deleted))
	for id := range deleted {
		deletes = append(deletes, id)
	}
	slices.Sort(deletes)

	if err := u.sess.commitOrFallback(ctx, sum, upserts, deletes); err != nil {
		return err
	}
	sum.Indexed += len(upserts)
	sum.Removed += len(deletes)
	return nil
}

// Run starts w on the workspace root and applies its batches until ctx is
// done. Once the watches are installed the tree is reconciled, which picks
// up changes made before the watcher existed. A failed batch is logged and
// watching continues.
func (u *Updater) Run(ctx context.Context, w watcher.Watcher) error {
	if err := w.Start(ctx, u.h.Workspace.Root); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	sum, err := u.Reconcile(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		slog.Error("watch_reconcile_failed", yerrors.LogAttrs(err)...)
	case u.OnBatch != nil && sum.Changed():
		u.OnBatch(sum)
	}

	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			sum, err := u.Apply(ctx, batch)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("watch_batch_failed", yerrors.LogAttrs(err)...)
				continue
			}
			if u.OnBatch != nil {
				u.OnBatch(sum)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", yerrors.LogAttrs(err)...)
		}
	}
}

// WatchOptions returns watcher options from the builder's configuration.
func (b *Builder) WatchOptions() watcher.Options {
	return watcher.Options{
		Debounce:     b.cfg.Watch.Debounce,
		PollInterval: b.cfg.Watch.PollInterval,
		UsePolling:   b.cfg.Watch.UsePolling,
		ExcludeDirs:  b.cfg.Walker.ExcludeDirs,
	}.WithDefaults()
}

// Close releases the stores, the embedder and the writer lock.
func (u *Updater) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true

	var errs []error
	if u.emb != nil {
		errs = append(errs, u.emb.Close())
	}
	if u.h != nil {
		errs = append(errs, u.h.Close())
	}
	if u.lock != nil {
		errs = append(errs, u.lock.Unlock())
	}
	return errors.Join(errs...)
}

// affectedPaths lists the current and previous paths of events, once each.
func affectedPaths(events []watcher.Event) []string {
	var out []string
	seen := make(map[string]struct{}, len(events))
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, ev := range events {
		add(ev.OldPath)
		add(ev.Path)
	}
	return out
}

func isIgnoreFile(rel string) bool {
	return slices.Contains(walker.DefaultIgnoreFiles, path.Base(rel))
}

func isDir(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}
