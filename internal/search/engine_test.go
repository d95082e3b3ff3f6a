package search

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/store"
)

// --- Fakes ---

type fakeCatalog struct {
	docs   map[string]*store.Document
	chunks map[string]string
}

func newFakeCatalog(files map[string]string) *fakeCatalog {
	c := &fakeCatalog{docs: map[string]*store.Document{}, chunks: map[string]string{}}
	for id, content := range files {
		c.docs[id] = &store.Document{ID: id, Content: content}
	}
	return c
}

func (c *fakeCatalog) addChunk(docID string, start, end int) string {
	id := docID + "#L" + itoa(start) + "-" + itoa(end)
	doc := c.docs[docID]
	doc.Chunks = append(doc.Chunks, store.ChunkRef{ID: id, StartLine: start, EndLine: end})
	c.chunks[id] = docID
	return id
}

func (c *fakeCatalog) Get(_ context.Context, id string) (*store.Document, error) {
	return c.docs[id], nil
}

func (c *fakeCatalog) Chunk(_ context.Context, id string) (*store.ChunkRef, string, error) {
	docID, ok := c.chunks[id]
	if !ok {
		return nil, "", nil
	}
	for _, ref := range c.docs[docID].Chunks {
		if ref.ID == id {
			return &ref, docID, nil
		}
	}
	return nil, "", nil
}

func (c *fakeCatalog) Scan(ctx context.Context, fn func(*store.Document) error) error {
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c.docs[id]); err != nil {
			return err
		}
	}
	return nil
}

// fakeText scores documents by the number of query term occurrences.
type fakeText struct {
	catalog *fakeCatalog
	err     error
}

func terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func (x *fakeText) Apply(context.Context, *store.TextBatch) error { return nil }

func (x *fakeText) Search(_ context.Context, query string, limit int) ([]*store.TextResult, error) {
	if x.err != nil {
		return nil, x.err
	}
	qterms := terms(query)
	var out []*store.TextResult
	for id, doc := range x.catalog.docs {
		counts := map[string]int{}
		for _, t := range terms(doc.Content) {
			counts[t]++
		}
		score := 0
		for _, t := range qterms {
			score += counts[t]
		}
		if score > 0 {
			out = append(out, &store.TextResult{DocID: id, Score: float64(score)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (x *fakeText) Stats() store.TextStats { return store.TextStats{Documents: len(x.catalog.docs)} }
func (x *fakeText) Save() error            { return nil }
func (x *fakeText) Close() error           { return nil }

type fakeVector struct {
	results []*store.VectorResult
}

func (v *fakeVector) Search(_ context.Context, _ []float32, k int) ([]*store.VectorResult, error) {
	if len(v.results) > k {
		return v.results[:k], nil
	}
	return v.results, nil
}

func (v *fakeVector) Count() int { return len(v.results) }

type fakeEmbedder struct {
	err error
	vec []float32
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.vec != nil {
		return e.vec, nil
	}
	return []float32{1, 0, 0}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for ; n > 0; n /= 10 {
		b = append([]byte{byte('0' + n%10)}, b...)
	}
	return string(b)
}

// --- Fixtures ---

var rustTree = map[string]string{
	"src/config.rs": "use std::io;\n\npub struct Config {\n    name: String,\n}\n",
	"src/other.rs":  "struct Other {}\n// config loader\n",
	"src/app.rs":    "fn main() {\n    let c = AppConfig::new();\n}\n",
}

func newTextEngine(t *testing.T, files map[string]string) (*Engine, *fakeCatalog) {
	t.Helper()
	cat := newFakeCatalog(files)
	e, err := NewEngine(Deps{Root: "/repo", Catalog: cat, Text: &fakeText{catalog: cat}})
	require.NoError(t, err)
	return e, cat
}

// --- Literal ---

func TestEngine_LiteralMatchesWholePhrase(t *testing.T) {
	// Given: a tree where only one file contains "struct Config"
	e, _ := newTextEngine(t, rustTree)

	// When: searching literally
	res, err := e.Search(context.Background(), Query{Text: "struct Config"})

	// Then: the other files sharing terms are dropped
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	h := res.Hits[0]
	assert.Equal(t, "src/config.rs", h.Path)
	assert.Equal(t, 3, h.LineStart)
	assert.Equal(t, []int{3}, h.Lines)
	assert.Equal(t, "pub struct Config {", h.Snippet)
	assert.Equal(t, MatchText, h.MatchType)
	assert.InDelta(t, 1.0, h.Score, 1e-9)
	assert.Equal(t, 1, res.Total)
}

func TestEngine_LiteralIsCaseInsensitive(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: "PUB STRUCT"})

	require.NoError(t, err)
	assert.Equal(t, []string{"src/config.rs"}, paths(res.Hits))
}

func TestEngine_LiteralSubstringFallback(t *testing.T) {
	// Given: "onfig" is never a whole token
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: "onfig"})

	// Then: the catalog scan still finds every file containing it
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.rs", "src/config.rs", "src/other.rs"}, paths(res.Hits))
}

func TestEngine_FallbackRanksBelowTokenMatches(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: "config"})

	require.NoError(t, err)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, "src/app.rs", res.Hits[2].Path)
	assert.Less(t, res.Hits[2].Score, res.Hits[1].Score)
}

func TestEngine_NoMatches(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: "nothing here"})

	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Zero(t, res.Total)
}

// --- Regex ---

func TestEngine_Regex(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: ".*Config.*", Mode: ModeRegex})

	// Then: every file with a matching line, earlier first lines ranked higher
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.rs", "src/other.rs", "src/config.rs"}, paths(res.Hits))
	cfg := res.Hits[2]
	assert.Equal(t, []int{3}, cfg.Lines)
	assert.InDelta(t, 1.0/3, cfg.Score, 1e-9)
}

func TestEngine_RegexAnchors(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: `^\s*let\b`, Mode: ModeRegex})

	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "src/app.rs", res.Hits[0].Path)
	assert.Equal(t, 2, res.Hits[0].LineStart)
	assert.Equal(t, "let c = AppConfig::new();", res.Hits[0].Snippet)
}

func TestEngine_RegexCancelled(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, Query{Text: "x", Mode: ModeRegex})

	assert.ErrorIs(t, err, context.Canceled)
}

// --- Validation ---

func TestEngine_InvalidQueries(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	tests := []struct {
		name string
		q    Query
	}{
		{"empty", Query{Text: ""}},
		{"blank", Query{Text: "   "}},
		{"bad regex", Query{Text: "(unclosed", Mode: ModeRegex}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(context.Background(), tt.q)
			assert.Equal(t, yerrors.ErrCodeInvalidQuery, yerrors.GetCode(err))
		})
	}
}

func TestEngine_RequireSemanticWithoutVectors(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	_, err := e.Search(context.Background(), Query{Text: "config", RequireSemantic: true})

	assert.Equal(t, yerrors.ErrCodeNotIndexed, yerrors.GetCode(err))
}

func TestNewEngine_RequiresStores(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(Deps{Catalog: newFakeCatalog(nil)})
	assert.ErrorIs(t, err, ErrNilDependency)
}

// --- Filters and limits ---

func TestEngine_FiltersApplyBeforeLimit(t *testing.T) {
	// Given: more markdown than Go files mentioning the needle
	files := map[string]string{}
	for i := range 6 {
		files["docs/n"+itoa(i)+".md"] = "needle needle needle\n"
	}
	for i := range 4 {
		files["pkg/n"+itoa(i)+".go"] = "// needle\n"
	}
	e, _ := newTextEngine(t, files)

	// When: limiting to two Go hits
	res, err := e.Search(context.Background(), Query{Text: "needle", Limit: 2, Extensions: []string{"go"}})

	// Then: the limit counts only filtered hits and Total counts all of them
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/n0.go", "pkg/n1.go"}, paths(res.Hits))
	assert.Equal(t, 4, res.Total)
}

func TestEngine_PathFilter(t *testing.T) {
	e, _ := newTextEngine(t, rustTree)

	res, err := e.Search(context.Background(), Query{Text: "Config", Mode: ModeRegex, Paths: []string{"src/conf"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"src/config.rs"}, paths(res.Hits))
}

func TestEngine_LimitClamp(t *testing.T) {
	cat := newFakeCatalog(rustTree)
	e, err := NewEngine(Deps{Catalog: cat, Text: &fakeText{catalog: cat}},
		WithConfig(EngineConfig{DefaultLimit: 1, MaxLimit: 2}))
	require.NoError(t, err)

	res, err := e.Search(context.Background(), Query{Text: "onfig"})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)

	res, err = e.Search(context.Background(), Query{Text: "onfig", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)
	assert.Equal(t, 3, res.Total)
}

// --- Hybrid ---

func newHybridEngine(t *testing.T, emb *fakeEmbedder) *Engine {
	t.Helper()
	cat := newFakeCatalog(map[string]string{
		"auth/token.go": "package auth\n\n// ValidateToken checks a session token.\nfunc ValidateToken() {}\n",
		"auth/login.go": "package auth\n\nfunc Login() {}\n",
	})
	tokenChunk := cat.addChunk("auth/token.go", 1, 4)
	loginChunk := cat.addChunk("auth/login.go", 2, 3)
	vec := &fakeVector{results: []*store.VectorResult{
		{ID: tokenChunk, Score: 0.9},
		{ID: loginChunk, Score: 0.6},
		{ID: "gone.go#L1-5", Score: 0.5},
	}}
	e, err := NewEngine(Deps{Catalog: cat, Text: &fakeText{catalog: cat}, Vector: vec, Embedder: emb})
	require.NoError(t, err)
	return e
}

func TestEngine_Hybrid(t *testing.T) {
	// Given: one file matching text and vectors, one matching vectors only
	e := newHybridEngine(t, &fakeEmbedder{})

	res, err := e.Search(context.Background(), Query{Text: "ValidateToken"})

	// Then: the first is hybrid and ranked first, the second semantic
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "auth/token.go", res.Hits[0].Path)
	assert.Equal(t, MatchHybrid, res.Hits[0].MatchType)
	assert.Equal(t, 3, res.Hits[0].LineStart)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-9)

	login := res.Hits[1]
	assert.Equal(t, MatchSemantic, login.MatchType)
	assert.Equal(t, 2, login.LineStart)
	assert.Equal(t, 3, login.LineEnd)
	assert.Equal(t, "func Login() {}", login.Snippet)

	text, sem := res.Counts()
	assert.Equal(t, 1, text)
	assert.Equal(t, 2, sem)
}

func TestEngine_TextOnlySkipsVectors(t *testing.T) {
	e := newHybridEngine(t, &fakeEmbedder{})

	res, err := e.Search(context.Background(), Query{Text: "ValidateToken", TextOnly: true})

	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, MatchText, res.Hits[0].MatchType)
}

func TestEngine_SemanticFailureDegrades(t *testing.T) {
	e := newHybridEngine(t, &fakeEmbedder{err: errors.New("model offline")})

	res, err := e.Search(context.Background(), Query{Text: "ValidateToken"})

	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, MatchText, res.Hits[0].MatchType)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-9)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "model offline")
}

func TestEngine_ZeroQueryVectorSkipsSemantic(t *testing.T) {
	// Given: a query that embeds to the zero vector
	e := newHybridEngine(t, &fakeEmbedder{vec: []float32{0, 0, 0}})

	// When: searching
	res, err := e.Search(context.Background(), Query{Text: "ValidateToken"})

	// Then: only text hits with finite, unweighted scores and no warning
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, MatchText, res.Hits[0].MatchType)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-9)
	assert.Empty(t, res.Warnings)
	_, err = json.Marshal(res.Hits)
	assert.NoError(t, err)
}

func TestEngine_RegexIgnoresVectors(t *testing.T) {
	e := newHybridEngine(t, &fakeEmbedder{})

	res, err := e.Search(context.Background(), Query{Text: "func", Mode: ModeRegex})

	require.NoError(t, err)
	for _, h := range res.Hits {
		assert.Equal(t, MatchText, h.MatchType)
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("é", maxSnippetRunes+10)

	got := clip(long)

	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxSnippetRunes+3, len([]rune(got)))
	assert.Equal(t, "short", clip("short"))
}
