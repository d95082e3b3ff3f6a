// Package store holds the persistent structures of a workspace index: the
// document catalog, the text index (native BM25 or Bleve) and the HNSW
// vector index.
package store

import (
	"context"
	"fmt"
	"time"
)

// File names inside an index directory.
const (
	CatalogFile   = "catalog.db"
	TextSegment   = "text.seg"
	BleveDir      = "text.bleve"
	VectorFile    = "vectors.hnsw"
	vectorMetaExt = ".meta"
)

// TextBackend selects the text index implementation.
type TextBackend string

const (
	// BackendNative is the in-process BM25 index persisted as a gob segment.
	BackendNative TextBackend = "native"
	// BackendBleve stores the text index in a Bleve directory.
	BackendBleve TextBackend = "bleve"
)

// TextDocument is one document handed to the text index.
type TextDocument struct {
	ID      string
	Content string
}

// TextBatch is a single atomic text index commit.
// Upserting an existing ID replaces all of its postings.
type TextBatch struct {
	Upserts []*TextDocument
	Deletes []string
}

// Empty reports whether the batch has nothing to commit.
func (b *TextBatch) Empty() bool {
	return b == nil || (len(b.Upserts) == 0 && len(b.Deletes) == 0)
}

// TextResult is a ranked text index match.
type TextResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
	// Lines holds the 1-based lines containing a matched term, ascending.
	// Backends that do not track positions leave it nil.
	Lines []int
}

// TextStats describes a text index.
type TextStats struct {
	Backend      TextBackend
	Documents    int
	Terms        int
	AvgDocLength float64
}

// TextIndex is the term index with BM25 ranking.
type TextIndex interface {
	// Apply commits a batch atomically. Readers observe either the state
	// before or after the batch, never a mix.
	Apply(ctx context.Context, batch *TextBatch) error

	// Search ranks documents containing at least one query term.
	Search(ctx context.Context, query string, limit int) ([]*TextResult, error)

	Stats() TextStats

	// Save persists the current state to the index directory.
	Save() error

	Close() error
}

// TextConfig configures text index construction.
type TextConfig struct {
	Backend TextBackend
	K1      float64
	B       float64
}

// DefaultTextConfig returns the BM25 parameters used when none are configured.
func DefaultTextConfig() TextConfig {
	return TextConfig{
		Backend: BackendNative,
		K1:      1.2,
		B:       0.75,
	}
}

// Document is a catalog row.
type Document struct {
	ID          string
	ContentHash string
	ModTime     time.Time
	Size        int64
	Language    string
	Content     string
	IndexedAt   time.Time
	Chunks      []ChunkRef
}

// ChunkRef records a chunk of a document stored in the vector index.
type ChunkRef struct {
	ID        string
	StartLine int
	EndLine   int
}

// VectorResult is a nearest-neighbour match.
type VectorResult struct {
	ID       string
	Distance float32
	// Score is the cosine similarity mapped to [0,1].
	Score float32
}

// VectorConfig configures the HNSW graph.
type VectorConfig struct {
	Dimensions int
	Model      string
	M          int
	EfSearch   int
}

// DefaultVectorConfig returns the graph parameters for the given dimensions.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStats describes the vector index, including tombstoned nodes.
type VectorStats struct {
	Live       int
	GraphNodes int
	Tombstones int
	Dimensions int
	Model      string
}

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimensions.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
