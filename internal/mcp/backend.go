package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/search"
	"github.com/Aman-CERP/ygrep/internal/store"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// Backend is the index the server answers from.
type Backend interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
	// Stats describes the index without opening it.
	Stats() *index.Stats
	// Document returns an indexed document, or nil when it is not cataloged.
	Document(ctx context.Context, path string) (*store.Document, error)
	// Documents calls fn for every indexed document in path order.
	Documents(ctx context.Context, fn func(*store.Document) error) error
	Close() error
}

// IndexBackend serves one workspace. The reader is opened on first use and
// reopened when another process rewrites the index.
type IndexBackend struct {
	builder *index.Builder
	ws      *workspace.Workspace

	mu       sync.RWMutex
	reader   *index.Reader
	openedAt time.Time
}

// NewIndexBackend creates a backend for ws. Nothing is opened until the
// first request.
func NewIndexBackend(b *index.Builder, ws *workspace.Workspace) *IndexBackend {
	return &IndexBackend{builder: b, ws: ws}
}

// refresh opens the reader, or reopens it when the index was rewritten.
func (b *IndexBackend) refresh(ctx context.Context) error {
	stats := index.Stat(b.builder.Store(), b.ws)

	b.mu.Lock()
	defer b.mu.Unlock()
	if stats.Err != nil {
		b.release()
		return stats.Err
	}
	if b.reader != nil && stats.Meta.UpdatedAt.Equal(b.openedAt) {
		return nil
	}

	b.release()
	r, err := b.builder.OpenReader(ctx, b.ws)
	if err != nil {
		return err
	}
	b.reader, b.openedAt = r, stats.Meta.UpdatedAt
	slog.Debug("index_reader_opened",
		slog.String("root", b.ws.Root),
		slog.Bool("vectors", r.Engine.HasVectors()))
	return nil
}

// with runs fn on a current reader. The reader stays open until fn returns.
func (b *IndexBackend) with(ctx context.Context, fn func(*index.Reader) error) error {
	if err := b.refresh(ctx); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.reader == nil {
		return yerrors.NotIndexed(b.ws.Root, "")
	}
	return fn(b.reader)
}

func (b *IndexBackend) release() {
	if b.reader != nil {
		_ = b.reader.Close()
		b.reader = nil
	}
}

func (b *IndexBackend) Search(ctx context.Context, q search.Query) (res *search.Result, err error) {
	err = b.with(ctx, func(r *index.Reader) error {
		res, err = r.Search(ctx, q)
		return err
	})
	return res, err
}

func (b *IndexBackend) Stats() *index.Stats {
	return index.Stat(b.builder.Store(), b.ws)
}

func (b *IndexBackend) Document(ctx context.Context, path string) (doc *store.Document, err error) {
	err = b.with(ctx, func(r *index.Reader) error {
		doc, err = r.Catalog.Get(ctx, path)
		return err
	})
	return doc, err
}

func (b *IndexBackend) Documents(ctx context.Context, fn func(*store.Document) error) error {
	return b.with(ctx, func(r *index.Reader) error {
		return r.Catalog.Scan(ctx, fn)
	})
}

// Close releases the open reader.
func (b *IndexBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	return nil
}
