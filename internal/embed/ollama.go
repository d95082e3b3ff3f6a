package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// DefaultOllamaHost is the default Ollama API endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions is the expected vector width. Responses of any other width
	// are rejected.
	Dimensions int

	BatchSize int
	Timeout   time.Duration

	// RequestsPerSecond limits request rate. Zero disables the limiter.
	RequestsPerSecond float64

	Retry yerrors.RetryConfig
}

// DefaultOllamaConfig returns defaults for a local Ollama daemon.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:              DefaultOllamaHost,
		Model:             "nomic-embed-text",
		Dimensions:        768,
		BatchSize:         DefaultBatchSize,
		Timeout:           DefaultTimeout,
		RequestsPerSecond: 20,
		Retry:             yerrors.DefaultRetryConfig(),
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// statusError is a non-200 response from Ollama.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.Status, e.Body)
}

// OllamaEmbedder calls a local Ollama daemon's /api/embed endpoint.
// Construction never touches the network; Available probes /api/tags.
type OllamaEmbedder struct {
	client  *http.Client
	cfg     OllamaConfig
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder for cfg, filling defaults.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = retryableOllamaError
	}

	e := &OllamaEmbedder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     10 * time.Second,
			},
		},
		cfg: cfg,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return e
}

// retryableOllamaError retries transport errors and 5xx/429 responses, not
// client errors such as an unknown model.
func retryableOllamaError(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return true
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs.
// Failures after retries are reported as EmbeddingFailed.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := yerrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			return e.doEmbed(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, yerrors.New(yerrors.ErrCodeEmbeddingFailed, "embedding request failed", err).
				WithDetail("model", e.cfg.Model).
				WithDetail("host", e.cfg.Host)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb) != e.cfg.Dimensions {
			return nil, &statusError{
				Status: http.StatusUnprocessableEntity,
				Body:   fmt.Sprintf("model %s returned %d dimensions, expected %d", e.cfg.Model, len(emb), e.cfg.Dimensions),
			}
		}
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}

	slog.Debug("ollama_embed", slog.Int("texts", len(texts)), slog.String("model", e.cfg.Model))
	return vecs, nil
}

// Dimensions returns the configured vector width.
func (e *OllamaEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelName returns the Ollama model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.cfg.Model
}

// Available reports whether the daemon answers /api/tags and lists the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultAvailabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		slog.Debug("ollama_unreachable", slog.String("host", e.cfg.Host), slog.String("error", err.Error()))
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.ToLower(e.cfg.Model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return true
		}
	}
	return false
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
