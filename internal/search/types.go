// Package search answers literal and regex queries against a workspace
// index. Text retrieval (BM25) and, when a vector index is present,
// semantic retrieval run concurrently; their results are normalized,
// fused per document, filtered and truncated.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/ygrep/internal/store"
)

// Mode selects how the query text is matched.
type Mode int

const (
	// ModeLiteral matches the query as a case-insensitive substring.
	ModeLiteral Mode = iota
	// ModeRegex matches the query as a case-insensitive regular expression.
	ModeRegex
)

func (m Mode) String() string {
	if m == ModeRegex {
		return "regex"
	}
	return "literal"
}

// MatchType records which retrievers found a hit.
type MatchType string

const (
	MatchText     MatchType = "text"
	MatchSemantic MatchType = "semantic"
	MatchHybrid   MatchType = "hybrid"
)

// Query is one search request.
type Query struct {
	Text string
	Mode Mode
	// Limit caps the returned hits. Zero uses the configured default.
	Limit int
	// Extensions is an allow-list of file extensions, with or without the
	// leading dot.
	Extensions []string
	// Paths keeps hits whose relative path starts with or contains any
	// entry.
	Paths []string
	// TextOnly skips semantic retrieval.
	TextOnly bool
	// RequireSemantic fails with NotIndexed when no vector index exists.
	RequireSemantic bool
}

// Hit is one ranked document.
type Hit struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	// Lines lists every matching line for text hits.
	Lines     []int     `json:"lines,omitempty"`
	Snippet   string    `json:"snippet"`
	Score     float64   `json:"score"`
	MatchType MatchType `json:"match_type"`

	textScore     float64
	semanticScore float64
}

// Result is the outcome of a query.
type Result struct {
	Hits []*Hit `json:"hits"`
	// Total is the number of hits before truncation.
	Total    int           `json:"total"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Counts returns the number of hits found by text and by semantic
// retrieval. Hybrid hits count for both.
func (r *Result) Counts() (text, semantic int) {
	for _, h := range r.Hits {
		switch h.MatchType {
		case MatchText:
			text++
		case MatchSemantic:
			semantic++
		case MatchHybrid:
			text++
			semantic++
		}
	}
	return text, semantic
}

// Weights are the fusion weights of the two retrievers.
type Weights struct {
	Text     float64
	Semantic float64
}

// DefaultWeights favours text matches.
func DefaultWeights() Weights {
	return Weights{Text: 0.6, Semantic: 0.4}
}

// EngineConfig configures limits and fusion.
type EngineConfig struct {
	DefaultLimit int
	MaxLimit     int
	Weights      Weights
	// CandidateFactor multiplies the limit to size text retrieval.
	CandidateFactor int
}

// DefaultConfig returns the standard limits and weights.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:    20,
		MaxLimit:        500,
		Weights:         DefaultWeights(),
		CandidateFactor: 10,
	}
}

// Catalog is the document store the engine reads from.
type Catalog interface {
	Get(ctx context.Context, id string) (*store.Document, error)
	Chunk(ctx context.Context, id string) (*store.ChunkRef, string, error)
	Scan(ctx context.Context, fn func(*store.Document) error) error
}

// VectorIndex is the nearest-neighbour index the engine queries.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
	Count() int
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
