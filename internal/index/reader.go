package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/ygrep/internal/embed"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/search"
	"github.com/Aman-CERP/ygrep/internal/store"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// Reader is an index opened for queries. It takes no lock. The text and
// vector segments are loaded at open and keep that state, while each
// catalog read sees the latest commit. A reader racing a writer can pair an
// older segment with newer rows; literal hits are confirmed against catalog
// content, so they never report text a file no longer has.
type Reader struct {
	*Handles
	Engine *search.Engine
	// Warnings are added to every result, e.g. when vectors are unusable.
	Warnings []string

	emb embed.Embedder
}

// OpenReader opens ws for searching. NotIndexed, SchemaMismatch and
// CorruptIndex are returned unchanged. When the embedder that built the
// vectors is unavailable the reader serves text-only results.
func (b *Builder) OpenReader(ctx context.Context, ws *workspace.Workspace) (*Reader, error) {
	meta, err := b.store.Open(ws)
	if err != nil {
		return nil, err
	}
	h, err := Open(ws, meta, b.cfg)
	if err != nil {
		return nil, err
	}
	r := &Reader{Handles: h}

	if h.Vector != nil {
		r.emb, err = b.openQueryEmbedder(ctx, meta)
		if err != nil {
			slog.Warn("vector_fallback_text", yerrors.LogAttrs(err)...)
			r.Warnings = append(r.Warnings, "semantic search unavailable: "+err.Error())
			_ = h.Vector.Close()
			h.Vector = nil
		}
	}

	deps := search.Deps{Root: ws.Root, Catalog: h.Catalog, Text: h.Text}
	if h.Vector != nil {
		deps.Vector = h.Vector
		deps.Embedder = r.emb
	}
	r.Engine, err = search.NewEngine(deps, search.WithConfig(b.searchConfig()))
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// openQueryEmbedder returns an embedder matching the model the vectors
// were built with.
func (b *Builder) openQueryEmbedder(ctx context.Context, meta *workspace.Metadata) (embed.Embedder, error) {
	e, err := b.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	if e.ModelName() != meta.EmbeddingModel || e.Dimensions() != meta.Dimensions {
		_ = e.Close()
		return nil, yerrors.New(yerrors.ErrCodeSchemaMismatch,
			fmt.Sprintf("index was built with %s (%d dims), configured model is %s (%d dims)",
				meta.EmbeddingModel, meta.Dimensions, e.ModelName(), e.Dimensions()), nil).
			WithSuggestion("Run 'ygrep index --rebuild' to re-embed")
	}
	return e, nil
}

func (b *Builder) searchConfig() search.EngineConfig {
	cfg := search.DefaultConfig()
	s := b.cfg.Search
	if s.DefaultLimit > 0 {
		cfg.DefaultLimit = s.DefaultLimit
	}
	if s.MaxLimit > 0 {
		cfg.MaxLimit = s.MaxLimit
	}
	if s.TextWeight+s.SemanticWeight > 0 {
		cfg.Weights = search.Weights{Text: s.TextWeight, Semantic: s.SemanticWeight}
	}
	return cfg
}

// Search runs q and appends the reader's warnings.
func (r *Reader) Search(ctx context.Context, q search.Query) (*search.Result, error) {
	res, err := r.Engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, r.Warnings...)
	return res, nil
}

// Close releases the embedder and every open store.
func (r *Reader) Close() error {
	if r.emb != nil {
		_ = r.emb.Close()
	}
	return r.Handles.Close()
}

// Stats describes a workspace index on disk without opening its stores.
type Stats struct {
	Workspace *workspace.Workspace
	// Meta is nil when Err is set.
	Meta *workspace.Metadata
	// Err is NotIndexed, SchemaMismatch or CorruptIndex when the index
	// cannot be used.
	Err error

	CatalogBytes int64
	TextBytes    int64
	VectorBytes  int64
	TotalBytes   int64
}

// Stat reads the metadata and file sizes of ws. It never creates the
// index directory.
func Stat(st *workspace.Store, ws *workspace.Workspace) *Stats {
	s := &Stats{Workspace: ws}
	s.Meta, s.Err = st.Open(ws)
	if s.Err != nil {
		s.Meta = nil
	}
	if _, err := os.Stat(ws.IndexDir); err != nil {
		return s
	}

	s.CatalogBytes = pathSize(ws.Path(store.CatalogFile))
	s.TextBytes = pathSize(ws.Path(store.TextSegment)) + pathSize(ws.Path(store.BleveDir))
	s.VectorBytes = pathSize(ws.Path(store.VectorFile)) + pathSize(ws.Path(store.VectorFile+".meta"))
	s.TotalBytes = st.Size(ws)
	return s
}

// pathSize is the size of a file, or the total of the regular files
// below a directory.
func pathSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total
}
