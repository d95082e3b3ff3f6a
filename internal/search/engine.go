package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/store"
)

const (
	// filterFactor widens text retrieval when filters will discard hits.
	filterFactor = 5

	// semanticFactor sizes vector retrieval relative to the limit.
	semanticFactor = 3

	maxSnippetRunes = 240
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// errNoDirection reports a query that embeds to the zero vector, such as
// one made only of punctuation. Vector retrieval is skipped for it.
var errNoDirection = errors.New("query embedding has no direction")

// Deps are the open stores of one workspace index.
type Deps struct {
	// Root is the workspace root, used in error messages.
	Root    string
	Catalog Catalog
	Text    store.TextIndex
	// Vector and Embedder are optional; both are needed for semantic
	// retrieval.
	Vector   VectorIndex
	Embedder QueryEmbedder
}

// Engine executes queries against one workspace index. It holds no
// mutable state of its own and is safe for concurrent use.
type Engine struct {
	deps   Deps
	config EngineConfig
	fusion *WeightedFusion
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithConfig replaces the default limits and weights.
func WithConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// NewEngine creates an engine. The catalog and text index are required.
func NewEngine(deps Deps, opts ...EngineOption) (*Engine, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrNilDependency)
	}
	if deps.Text == nil {
		return nil, fmt.Errorf("%w: text index is required", ErrNilDependency)
	}
	e := &Engine{deps: deps, config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	def := DefaultConfig()
	if e.config.DefaultLimit <= 0 {
		e.config.DefaultLimit = def.DefaultLimit
	}
	if e.config.MaxLimit < e.config.DefaultLimit {
		e.config.MaxLimit = max(def.MaxLimit, e.config.DefaultLimit)
	}
	if e.config.CandidateFactor <= 0 {
		e.config.CandidateFactor = def.CandidateFactor
	}
	e.fusion = NewWeightedFusion(e.config.Weights)
	return e, nil
}

// HasVectors reports whether semantic retrieval is possible.
func (e *Engine) HasVectors() bool {
	return e.deps.Vector != nil && e.deps.Embedder != nil
}

func (e *Engine) limit(n int) int {
	if n <= 0 {
		return e.config.DefaultLimit
	}
	return min(n, e.config.MaxLimit)
}

// Search runs q and returns ranked hits. Filters apply before the limit.
func (e *Engine) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(q.Text) == "" {
		return nil, yerrors.InvalidQuery(q.Text, errors.New("query is empty"))
	}

	var re *regexp.Regexp
	if q.Mode == ModeRegex {
		var err error
		if re, err = compileRegex(q.Text); err != nil {
			return nil, err
		}
	}
	if q.RequireSemantic && !e.HasVectors() {
		return nil, yerrors.NotIndexed(e.deps.Root, "semantic")
	}

	limit := e.limit(q.Limit)
	res := &Result{}
	var hits []*Hit
	var err error
	if re != nil {
		hits, err = e.searchRegex(ctx, re, q)
	} else {
		hits, err = e.searchLiteral(ctx, q, limit, res)
	}
	if err != nil {
		return nil, err
	}

	hits = ApplyFilters(hits, q)
	res.Total = len(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	res.Hits = hits
	res.Duration = time.Since(start)

	slog.Debug("search_complete",
		slog.String("mode", q.Mode.String()),
		slog.Int("hits", len(hits)),
		slog.Int("total", res.Total),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// searchLiteral runs text and semantic retrieval concurrently and fuses
// them. Failure of one retriever degrades to the other with a warning.
func (e *Engine) searchLiteral(ctx context.Context, q Query, limit int, res *Result) ([]*Hit, error) {
	query := strings.TrimSpace(q.Text)
	fetch := limit * e.config.CandidateFactor
	if hasFilters(q) {
		fetch *= filterFactor
	}
	runSemantic := e.HasVectors() && !q.TextOnly

	var (
		text            []*TextCandidate
		sem             []*SemanticCandidate
		textErr, semErr error
		g               errgroup.Group
	)
	g.Go(func() error {
		text, textErr = e.retrieveText(ctx, query, fetch, limit, q)
		return nil
	})
	if runSemantic {
		g.Go(func() error {
			sem, semErr = e.retrieveSemantic(ctx, query, limit*semanticFactor, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(semErr, errNoDirection) {
		semErr, runSemantic = nil, false
	}
	if textErr != nil {
		if !runSemantic || semErr != nil {
			return nil, textErr
		}
		slog.Warn("text_search_failed", yerrors.LogAttrs(textErr)...)
		res.Warnings = append(res.Warnings, "text search failed, showing semantic results only: "+textErr.Error())
	}
	if semErr != nil {
		slog.Warn("semantic_search_failed", yerrors.LogAttrs(semErr)...)
		res.Warnings = append(res.Warnings, "semantic search failed, showing text results only: "+semErr.Error())
		runSemantic = false
	}
	return e.fusion.Fuse(text, sem, runSemantic), nil
}

// retrieveText returns BM25 candidates whose lines contain the query as a
// case-insensitive substring. When fewer than limit survive the filters, a
// catalog scan adds documents where the substring is not token aligned;
// they score below every confirmed candidate.
func (e *Engine) retrieveText(ctx context.Context, query string, fetch, limit int, q Query) ([]*TextCandidate, error) {
	results, err := e.deps.Text.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	filters := buildFilters(q)
	seen := make(map[string]struct{}, len(results))
	var out []*TextCandidate
	kept := 0
	minScore := 0.0
	for _, r := range results {
		doc, err := e.deps.Catalog.Get(ctx, r.DocID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		lines, snippet := literalLines(doc.Content, needle)
		if len(lines) == 0 {
			continue
		}
		seen[r.DocID] = struct{}{}
		if len(out) == 0 || r.Score < minScore {
			minScore = r.Score
		}
		out = append(out, &TextCandidate{DocID: r.DocID, Score: r.Score, Lines: lines, Snippet: snippet})
		if matchesAllFilters(&Hit{Path: r.DocID}, filters) {
			kept++
		}
	}
	if kept >= limit {
		return out, nil
	}

	fallback := 1.0
	if len(out) > 0 {
		fallback = minScore / 2
	}
	err = e.deps.Catalog.Scan(ctx, func(doc *store.Document) error {
		if _, ok := seen[doc.ID]; ok {
			return nil
		}
		if !matchesAllFilters(&Hit{Path: doc.ID}, filters) {
			return nil
		}
		lines, snippet := literalLines(doc.Content, needle)
		if len(lines) > 0 {
			out = append(out, &TextCandidate{DocID: doc.ID, Score: fallback, Lines: lines, Snippet: snippet})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// retrieveSemantic embeds the query and keeps the best chunk per document.
func (e *Engine) retrieveSemantic(ctx context.Context, query string, k int, q Query) ([]*SemanticCandidate, error) {
	vec, err := e.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if zeroNorm(vec) {
		return nil, errNoDirection
	}
	if hasFilters(q) {
		k *= filterFactor
	}
	results, err := e.deps.Vector.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	best := make(map[string]*SemanticCandidate, len(results))
	var order []string
	for _, r := range results {
		ref, docID, err := e.deps.Catalog.Chunk(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			continue
		}
		score := float64(r.Score)
		if c, ok := best[docID]; ok {
			if score > c.Score {
				c.Score, c.StartLine, c.EndLine = score, ref.StartLine, ref.EndLine
			}
			continue
		}
		best[docID] = &SemanticCandidate{DocID: docID, Score: score, StartLine: ref.StartLine, EndLine: ref.EndLine}
		order = append(order, docID)
	}

	out := make([]*SemanticCandidate, 0, len(order))
	for _, id := range order {
		c := best[id]
		doc, err := e.deps.Catalog.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		c.Snippet = firstNonBlank(doc.Content, c.StartLine, c.EndLine)
		out = append(out, c)
	}
	return out, nil
}

// searchRegex scans every cataloged document. A hit scores 1/line of its
// first match, so earlier matches rank higher.
func (e *Engine) searchRegex(ctx context.Context, re *regexp.Regexp, q Query) ([]*Hit, error) {
	filters := buildFilters(q)
	var hits []*Hit
	err := e.deps.Catalog.Scan(ctx, func(doc *store.Document) error {
		if !matchesAllFilters(&Hit{Path: doc.ID}, filters) {
			return nil
		}
		lines, snippet := regexLines(doc.Content, re)
		if len(lines) == 0 {
			return nil
		}
		hits = append(hits, &Hit{
			Path:      doc.ID,
			LineStart: lines[0],
			LineEnd:   lines[0],
			Lines:     lines,
			Snippet:   snippet,
			Score:     1 / float64(lines[0]),
			MatchType: MatchText,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortHits(hits)
	return hits, nil
}

// compileRegex compiles pattern case-insensitively.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, yerrors.InvalidQuery(pattern, err)
	}
	return re, nil
}

// literalLines returns the 1-based lines containing needle, which must be
// lower case, and the first of them trimmed.
func literalLines(content, needle string) ([]int, string) {
	return matchLines(content, func(line string) bool {
		return strings.Contains(strings.ToLower(line), needle)
	})
}

func regexLines(content string, re *regexp.Regexp) ([]int, string) {
	return matchLines(content, re.MatchString)
}

func matchLines(content string, match func(string) bool) ([]int, string) {
	var lines []int
	var snippet string
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !match(line) {
			continue
		}
		if lines == nil {
			snippet = clip(strings.TrimSpace(line))
		}
		lines = append(lines, i+1)
	}
	return lines, snippet
}

// firstNonBlank returns the first non-blank line in [start, end].
func firstNonBlank(content string, start, end int) string {
	for i, line := range strings.Split(content, "\n") {
		n := i + 1
		if n < start {
			continue
		}
		if n > end {
			break
		}
		if s := strings.TrimSpace(line); s != "" {
			return clip(s)
		}
	}
	return ""
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxSnippetRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxSnippetRunes]) + "..."
}

func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
