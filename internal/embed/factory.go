package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/ygrep/internal/config"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses hashed embeddings and is always available.
	ProviderStatic ProviderType = "static"

	// ProviderOllama calls a local Ollama daemon.
	ProviderOllama ProviderType = "ollama"
)

// NewEmbedder builds the configured embedder, wrapped in a cache unless
// cache_size is zero. It does not check availability; see Probe.
func NewEmbedder(_ context.Context, cfg config.SemanticConfig) (Embedder, error) {
	var e Embedder
	switch ProviderType(cfg.Provider) {
	case ProviderStatic, "":
		e = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama:
		ocfg := DefaultOllamaConfig()
		ocfg.Host = cfg.Host
		ocfg.Model = cfg.Model
		ocfg.Dimensions = cfg.Dimensions
		ocfg.BatchSize = cfg.BatchSize
		ocfg.RequestsPerSecond = cfg.RequestsPerSecond
		e = NewOllamaEmbedder(ocfg)
	default:
		return nil, yerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("Set semantic.provider to 'static' or 'ollama'")
	}

	slog.Debug("embedder_created",
		slog.String("provider", cfg.Provider),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))

	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}

// Probe returns Unsupported when e cannot currently produce embeddings.
func Probe(ctx context.Context, e Embedder) error {
	if e == nil {
		return yerrors.Unsupported("semantic search", "no embedder configured")
	}
	if !e.Available(ctx) {
		return yerrors.Unsupported("semantic search",
			fmt.Sprintf("embedding model %s is not available", e.ModelName()))
	}
	return nil
}
