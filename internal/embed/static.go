package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/Aman-CERP/ygrep/internal/tokenizer"
)

// StaticEmbedder produces deterministic hashed bag-of-tokens embeddings.
// It needs no network or model files and is always available; the vectors
// capture lexical overlap rather than meaning.
type StaticEmbedder struct {
	dims   int
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// programmingStopWords are keywords too common in code to carry signal.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder of the given width.
// Non-positive dims selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes the text's tokens (weight 0.7) and character trigrams
// (weight 0.3) into a vector and L2-normalizes it. Blank text gives the
// zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	vector := make([]float32, e.dims)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector, nil
	}

	for _, token := range subTokens(trimmed) {
		if programmingStopWords[token] {
			continue
		}
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(trimmed), ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
	}

	return normalizeVector(vector), nil
}

// subTokens returns the lower-cased tokens of text with camelCase and
// snake_case identifiers also split into their parts.
func subTokens(text string) []string {
	var out []string
	for _, tok := range tokenizer.Tokenize(text) {
		raw := text[tok.Offset:tokenizer.End(text, tok.Offset)]
		out = append(out, tok.Text)
		parts := splitCodeToken(raw)
		if len(parts) > 1 {
			for _, p := range parts {
				out = append(out, strings.ToLower(p))
			}
		}
	}
	return out
}

// splitCodeToken splits snake_case, kebab-case and camelCase identifiers.
func splitCodeToken(token string) []string {
	var result []string
	for _, part := range strings.FieldsFunc(token, func(r rune) bool {
		return r == '_' || r == '-' || r == '$' || r == '@' || r == '#'
	}) {
		result = append(result, splitCamelCase(part)...)
	}
	return result
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractNgrams returns the n-rune sliding windows of text.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex maps s to a bucket with FNV-1a.
func hashToIndex(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the vector width.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns "static".
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available is true until Close.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
