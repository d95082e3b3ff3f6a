package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/ygrep/internal/config"
	"github.com/Aman-CERP/ygrep/internal/embed"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/store"
	"github.com/Aman-CERP/ygrep/internal/walker"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// errRestart asks Build to start again from an empty index directory.
var errRestart = errors.New("index must be rebuilt")

// EmbedderFactory creates the embedder for semantic builds.
type EmbedderFactory func(ctx context.Context, cfg config.SemanticConfig) (embed.Embedder, error)

// BuildOptions controls a build.
type BuildOptions struct {
	// Mode overrides the stored mode and is persisted. Nil keeps the
	// stored mode, or text for a new index.
	Mode *workspace.Mode
	// Rebuild discards the existing index first.
	Rebuild  bool
	Progress ProgressFunc
}

// Builder creates and incrementally refreshes workspace indexes.
type Builder struct {
	store       *workspace.Store
	cfg         *config.Config
	newEmbedder EmbedderFactory
}

// Option configures a Builder.
type Option func(*Builder)

// WithEmbedderFactory replaces embed.NewEmbedder.
func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(b *Builder) { b.newEmbedder = f }
}

// NewBuilder creates a builder for indexes kept in st.
func NewBuilder(st *workspace.Store, cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{store: st, cfg: cfg, newEmbedder: embed.NewEmbedder}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Store returns the workspace store the builder writes to.
func (b *Builder) Store() *workspace.Store {
	return b.store
}

func (b *Builder) walker() (*walker.Walker, error) {
	return walker.New(walker.Options{
		MaxFileSize:      b.cfg.Walker.MaxFileSize,
		ExcludeDirs:      b.cfg.Walker.ExcludeDirs,
		FollowSymlinks:   b.cfg.Walker.FollowSymlinks,
		RespectGitignore: b.cfg.Walker.RespectGitignore,
	})
}

// openEmbedder returns a ready embedder, or an Unsupported error when the
// configured provider cannot serve requests.
func (b *Builder) openEmbedder(ctx context.Context) (embed.Embedder, error) {
	e, err := b.newEmbedder(ctx, b.cfg.Semantic)
	if err != nil {
		return nil, err
	}
	if err := embed.Probe(ctx, e); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Build indexes ws under its writer lock. Unchanged files are skipped and
// vanished files removed unless opts.Rebuild is set. A missing, corrupt,
// inconsistent or incompatible index is rebuilt from scratch.
func (b *Builder) Build(ctx context.Context, ws *workspace.Workspace, opts BuildOptions) (*Summary, error) {
	lock, err := b.store.Lock(ws)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()
	return b.buildLocked(ctx, ws, opts)
}

// buildLocked runs Build with the writer lock already held.
func (b *Builder) buildLocked(ctx context.Context, ws *workspace.Workspace, opts BuildOptions) (*Summary, error) {
	start := time.Now()
	rebuild := opts.Rebuild
	for {
		sum, err := b.build(ctx, ws, opts, rebuild, start)
		if errors.Is(err, errRestart) && !rebuild {
			rebuild = true
			continue
		}
		return sum, err
	}
}

func (b *Builder) build(ctx context.Context, ws *workspace.Workspace, opts BuildOptions, rebuild bool, start time.Time) (*Summary, error) {
	mode := b.store.ResolveMode(ws, opts.Mode)
	backend := b.cfg.Text.Backend

	meta, err := b.store.Open(ws)
	switch {
	case rebuild || needsRebuild(err):
		if err != nil && yerrors.GetCode(err) != yerrors.ErrCodeNotIndexed {
			slog.Warn("index_rebuild", yerrors.LogAttrs(err)...)
		}
		if meta, err = b.store.Create(ws, mode, backend); err != nil {
			return nil, err
		}
		rebuild = true
	case err != nil:
		return nil, err
	case meta.TextBackend != backend:
		slog.Info("index_rebuild", slog.String("reason", "text backend changed"),
			slog.String("from", meta.TextBackend), slog.String("to", backend))
		return nil, errRestart
	}

	sum := &Summary{}
	var emb embed.Embedder
	if mode == workspace.ModeSemantic {
		emb, err = b.openEmbedder(ctx)
		switch {
		case err == nil:
			if !rebuild && (!meta.HasVectors() || meta.EmbeddingModel != emb.ModelName() || meta.Dimensions != emb.Dimensions()) {
				_ = emb.Close()
				slog.Info("index_rebuild", slog.String("reason", "vector index missing or built with another model"))
				return nil, errRestart
			}
			defer func() { _ = emb.Close() }()
		case yerrors.GetCode(err) == yerrors.ErrCodeUnsupported:
			emb = nil
			sum.VectorStatus = workspace.VectorUnsupported
			sum.Warnings = append(sum.Warnings, err.Error())
			slog.Warn("vector_fallback_text", yerrors.LogAttrs(err)...)
		default:
			return nil, err
		}
	}

	h, err := openBase(ws, meta, b.cfg, store.FullCheck)
	if err != nil {
		if needsRebuild(err) && !rebuild {
			return nil, errRestart
		}
		return nil, err
	}
	defer func() { _ = h.Close() }()

	if emb != nil {
		vec, err := store.OpenHNSWIndex(ws.Path(store.VectorFile),
			vectorConfig(b.cfg, emb.Dimensions(), emb.ModelName()))
		if err != nil {
			if needsRebuild(err) && !rebuild {
				return nil, errRestart
			}
			return nil, err
		}
		h.Vector = vec
	} else {
		h.dropVectors()
	}

	if !rebuild {
		res, err := Check(ctx, h)
		if err != nil {
			return nil, err
		}
		if !res.Consistent() {
			slog.Warn("index_inconsistent", slog.Int("issues", len(res.Inconsistencies)))
			return nil, errRestart
		}
	}

	meta.Mode = mode
	meta.TextBackend = backend
	buildID := meta.StartBuild()
	slog.Info("build_started",
		slog.String("root", ws.Root),
		slog.String("mode", string(mode)),
		slog.String("build_id", buildID),
		slog.Bool("rebuild", rebuild))

	w, err := b.walker()
	if err != nil {
		return nil, yerrors.InternalError("create walker", err)
	}
	sess := newSession(h, emb, b.cfg)
	if err := sess.scan(ctx, w, b.cfg.Workers(), sum, opts.Progress); err != nil {
		return nil, err
	}

	switch {
	case sess.vectors():
		sum.VectorStatus = workspace.VectorReady
		meta.EmbeddingModel = sess.embedder.ModelName()
		meta.Dimensions = sess.embedder.Dimensions()
	case mode == workspace.ModeSemantic:
		sum.VectorStatus = workspace.VectorUnsupported
		meta.EmbeddingModel, meta.Dimensions = "", 0
	default:
		sum.VectorStatus = workspace.VectorNone
		meta.EmbeddingModel, meta.Dimensions = "", 0
	}
	meta.VectorStatus = sum.VectorStatus
	meta.FinishBuild(start)
	if err := sess.finish(ctx, b.store); err != nil {
		return nil, err
	}

	sum.Duration = time.Since(start)
	slog.Info("build_complete",
		slog.String("build_id", buildID),
		slog.Int("indexed", sum.Indexed),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("removed", sum.Removed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("chunks", sum.Chunks),
		slog.String("vector_status", string(sum.VectorStatus)),
		slog.Duration("duration", sum.Duration))
	return sum, nil
}

// String renders a one-line summary.
func (s *Summary) String() string {
	return fmt.Sprintf("%d indexed, %d unchanged, %d removed, %d skipped in %s",
		s.Indexed, s.Unchanged, s.Removed, s.Skipped, s.Duration.Round(time.Millisecond))
}
