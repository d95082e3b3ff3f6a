// Package embed turns text into vectors for the semantic index.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 64

	// MaxBatchSize bounds a single request.
	MaxBatchSize = 1024

	// StaticDimensions is the default width of static embeddings.
	StaticDimensions = 256

	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultAvailabilityTimeout bounds the availability probe.
	DefaultAvailabilityTimeout = 3 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one embedding per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier recorded in index metadata.
	ModelName() string

	// Available reports whether embeddings can be produced right now.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
