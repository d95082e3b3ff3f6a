// Package index builds and incrementally maintains a workspace's catalog,
// text index and optional vector index.
//
// Builder performs full and incremental builds from a walk of the tree.
// Updater applies debounced watch events to an open index, re-checking only
// the affected paths. Both commit through the same session so a document's
// catalog row, postings and chunk vectors are replaced together.
package index

import (
	"errors"
	"log/slog"

	"github.com/Aman-CERP/ygrep/internal/config"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/store"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// Handles are the open stores of one workspace index.
type Handles struct {
	Workspace *workspace.Workspace
	Meta      *workspace.Metadata
	Catalog   *store.Catalog
	Text      store.TextIndex
	// Vector is nil unless the index carries vectors.
	Vector *store.HNSWIndex
}

// Open opens the stores of an existing index for reading or updating. The
// vector index is opened only when meta records a usable one. The catalog
// gets the quick integrity check; builds run the full one.
func Open(ws *workspace.Workspace, meta *workspace.Metadata, cfg *config.Config) (*Handles, error) {
	h, err := openBase(ws, meta, cfg, store.QuickCheck)
	if err != nil {
		return nil, err
	}
	if meta.HasVectors() {
		vec, err := store.OpenHNSWIndex(ws.Path(store.VectorFile),
			vectorConfig(cfg, meta.Dimensions, meta.EmbeddingModel))
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.Vector = vec
	}
	return h, nil
}

// openBase opens the catalog and the text index.
func openBase(ws *workspace.Workspace, meta *workspace.Metadata, cfg *config.Config, check store.IntegrityCheck) (*Handles, error) {
	h := &Handles{Workspace: ws, Meta: meta}

	cat, err := store.OpenCatalog(ws.Path(store.CatalogFile), check)
	if err != nil {
		return nil, err
	}
	h.Catalog = cat

	text, err := store.OpenTextIndex(ws.IndexDir, textConfig(cfg, meta.TextBackend))
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.Text = text
	return h, nil
}

// dropVectors closes the vector index and removes its files.
func (h *Handles) dropVectors() {
	if h.Vector != nil {
		_ = h.Vector.Close()
		h.Vector = nil
	}
	if err := store.RemoveHNSWFiles(h.Workspace.Path(store.VectorFile)); err != nil {
		slog.Warn("vector_files_remove_failed", yerrors.LogAttrs(err)...)
	}
}

// Save persists the text and vector indexes. The catalog commits on Apply.
func (h *Handles) Save() error {
	if err := h.Text.Save(); err != nil {
		return err
	}
	if h.Vector != nil {
		if err := h.Vector.Save(h.Workspace.Path(store.VectorFile)); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every open store.
func (h *Handles) Close() error {
	var errs []error
	if h.Vector != nil {
		errs = append(errs, h.Vector.Close())
	}
	if h.Text != nil {
		errs = append(errs, h.Text.Close())
	}
	if h.Catalog != nil {
		errs = append(errs, h.Catalog.Close())
	}
	return errors.Join(errs...)
}

func textConfig(cfg *config.Config, backend string) store.TextConfig {
	if backend == "" {
		backend = cfg.Text.Backend
	}
	return store.TextConfig{
		Backend: store.TextBackend(backend),
		K1:      cfg.Text.K1,
		B:       cfg.Text.B,
	}
}

func vectorConfig(cfg *config.Config, dims int, model string) store.VectorConfig {
	vc := store.DefaultVectorConfig(dims)
	vc.Model = model
	if cfg.Semantic.M > 0 {
		vc.M = cfg.Semantic.M
	}
	if cfg.Semantic.EfSearch > 0 {
		vc.EfSearch = cfg.Semantic.EfSearch
	}
	return vc
}

// needsRebuild reports errors that are fixed by starting from an empty
// index directory.
func needsRebuild(err error) bool {
	switch yerrors.GetCode(err) {
	case yerrors.ErrCodeNotIndexed, yerrors.ErrCodeSchemaMismatch, yerrors.ErrCodeCorruptIndex:
		return true
	}
	return false
}
