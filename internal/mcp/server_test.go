package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ygrep/internal/async"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/search"
	"github.com/Aman-CERP/ygrep/internal/store"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// fakeBackend records the last query and returns canned data.
type fakeBackend struct {
	result *search.Result
	err    error
	stats  *index.Stats
	docs   map[string]*store.Document
	last   search.Query
	closed bool
}

func (f *fakeBackend) Search(_ context.Context, q search.Query) (*search.Result, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeBackend) Stats() *index.Stats { return f.stats }

func (f *fakeBackend) Document(_ context.Context, p string) (*store.Document, error) {
	return f.docs[p], nil
}

func (f *fakeBackend) Documents(_ context.Context, fn func(*store.Document) error) error {
	for _, d := range f.docs {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func sampleResult() *search.Result {
	return &search.Result{
		Hits: []*search.Hit{
			{Path: "src/auth.rs", LineStart: 4, LineEnd: 4, Lines: []int{4, 9}, Snippet: "fn validate_token() {}", Score: 0.9, MatchType: search.MatchHybrid},
			{Path: "docs/login.md", LineStart: 1, LineEnd: 6, Snippet: "# Login flow", Score: 0.3, MatchType: search.MatchSemantic},
		},
		Total: 7,
	}
}

func newTestServer(t *testing.T, b *fakeBackend) *Server {
	t.Helper()
	s, err := NewServer(b, t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil, "/repo")
	require.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	tools := s.ListTools()

	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "index_status", tools[1].Name)
	assert.NotNil(t, s.MCPServer())
}

func TestServer_Search_BuildsQuery(t *testing.T) {
	// Given: a backend with two hits
	b := &fakeBackend{result: sampleResult()}
	s := newTestServer(t, b)

	// When: searching with every option set
	out, err := s.search(context.Background(), SearchInput{
		Query: "token", Limit: 1000, Regex: true,
		Extensions: []string{"rs"}, Paths: []string{"src"}, TextOnly: true,
	})

	// Then: the query is passed through with the limit clamped
	require.NoError(t, err)
	assert.Equal(t, "token", b.last.Text)
	assert.Equal(t, search.ModeRegex, b.last.Mode)
	assert.Equal(t, maxToolLimit, b.last.Limit)
	assert.Equal(t, []string{"rs"}, b.last.Extensions)
	assert.Equal(t, []string{"src"}, b.last.Paths)
	assert.True(t, b.last.TextOnly)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "src/auth.rs", out.Results[0].FilePath)
	assert.Equal(t, "hybrid", out.Results[0].MatchType)
	assert.Equal(t, []int{4, 9}, out.Results[0].Lines)
	assert.Equal(t, 7, out.Total)
	assert.Equal(t, 1, out.TextHits)
	assert.Equal(t, 2, out.SemanticHits)
}

func TestServer_Search_DefaultLimit(t *testing.T) {
	b := &fakeBackend{result: &search.Result{}}
	s := newTestServer(t, b)

	_, err := s.search(context.Background(), SearchInput{Query: "x"})

	require.NoError(t, err)
	assert.Equal(t, defaultToolLimit, b.last.Limit)
	assert.Equal(t, search.ModeLiteral, b.last.Mode)
}

func TestServer_Search_RejectsBlankQuery(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	for _, q := range []string{"", "   \t"} {
		_, err := s.search(context.Background(), SearchInput{Query: q})

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	}
}

func TestServer_Search_MapsEngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not indexed", yerrors.NotIndexed("/repo", ""), ErrCodeIndexNotFound},
		{"bad regex", yerrors.InvalidQuery("(", errors.New("missing )")), ErrCodeInvalidParams},
		{"timeout", context.DeadlineExceeded, ErrCodeTimeout},
		{"other", errors.New("disk on fire"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeBackend{err: tt.err})

			_, err := s.search(context.Background(), SearchInput{Query: "x"})

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, tt.code, mcpErr.Code)
		})
	}
}

func TestServer_CallTool(t *testing.T) {
	b := &fakeBackend{result: sampleResult(), stats: &index.Stats{Err: yerrors.NotIndexed("/repo", "")}}
	s := newTestServer(t, b)

	got, err := s.CallTool(context.Background(), "search", map[string]any{
		"query": "token", "limit": float64(5), "extensions": []any{"rs", 3},
	})
	require.NoError(t, err)
	assert.Len(t, got.(SearchOutput).Results, 2)
	assert.Equal(t, 5, b.last.Limit)
	assert.Equal(t, []string{"rs"}, b.last.Extensions)

	_, err = s.CallTool(context.Background(), "search", map[string]any{"limit": float64(5)})
	require.Error(t, err)

	_, err = s.CallTool(context.Background(), "nonexistent_tool", nil)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_IndexStatus_NotIndexed(t *testing.T) {
	b := &fakeBackend{stats: &index.Stats{Err: yerrors.NotIndexed("/repo", "")}}
	s := newTestServer(t, b)

	out := s.indexStatus()

	assert.False(t, out.Indexed)
	assert.Contains(t, out.Problem, "not indexed")
	assert.Contains(t, out.Problem, "ygrep index")
	assert.Equal(t, "none", out.Embeddings.Status)
}

func TestServer_IndexStatus_Semantic(t *testing.T) {
	// Given: a semantic index
	built := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	b := &fakeBackend{stats: &index.Stats{
		Meta: &workspace.Metadata{
			Mode: workspace.ModeSemantic, VectorStatus: workspace.VectorReady,
			DocCount: 12, ChunkCount: 40, TextBackend: "native",
			EmbeddingModel: "static", Dimensions: 256, LastBuildTime: built,
		},
		TotalBytes: 4096,
	}}
	s := newTestServer(t, b)
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "go.mod"), []byte("module example.com/acme/widget\n"), 0o644))

	// When: reporting status
	out := s.indexStatus()

	// Then: counts, embeddings and project are filled
	assert.True(t, out.Indexed)
	assert.Equal(t, "semantic", out.Stats.Mode)
	assert.Equal(t, 12, out.Stats.FileCount)
	assert.Equal(t, 40, out.Stats.ChunkCount)
	assert.Equal(t, int64(4096), out.Stats.IndexSizeBytes)
	assert.Equal(t, "2026-05-01T10:00:00Z", out.Stats.LastIndexed)
	assert.Equal(t, EmbeddingInfo{Status: "ready", Model: "static", Dimensions: 256}, out.Embeddings)
	assert.Equal(t, "widget", out.Project.Name)
	assert.Equal(t, "go", out.Project.Type)
}

func TestServer_IndexStatus_Unsupported(t *testing.T) {
	b := &fakeBackend{stats: &index.Stats{Meta: &workspace.Metadata{
		Mode: workspace.ModeSemantic, VectorStatus: workspace.VectorUnsupported,
	}}}
	s := newTestServer(t, b)

	assert.Equal(t, "unsupported", s.indexStatus().Embeddings.Status)
}

func TestServer_IndexStatus_ReportsQueries(t *testing.T) {
	// Given: one hybrid hit and one empty regex search
	b := &fakeBackend{result: sampleResult(), stats: &index.Stats{Meta: &workspace.Metadata{Mode: workspace.ModeText}}}
	s := newTestServer(t, b)
	_, err := s.search(context.Background(), SearchInput{Query: "validate token"})
	require.NoError(t, err)
	b.result = &search.Result{}
	_, err = s.search(context.Background(), SearchInput{Query: `fn \w+`, Regex: true})
	require.NoError(t, err)

	// When: reporting status
	q := s.indexStatus().Queries

	// Then: both searches are counted
	assert.Equal(t, int64(2), q.Total)
	assert.Equal(t, int64(1), q.ZeroResults)
	assert.Equal(t, int64(1), q.ByKind["hybrid"])
	assert.Equal(t, int64(1), q.ByKind["regex"])
	assert.Equal(t, []string{`fn \w+`}, q.RecentZero)
	assert.NotEmpty(t, q.TopTerms)
	assert.NotEmpty(t, q.Since)
}

func TestServer_FailedSearchNotRecorded(t *testing.T) {
	b := &fakeBackend{err: errors.New("boom"), stats: &index.Stats{Err: yerrors.NotIndexed("/repo", "")}}
	s := newTestServer(t, b)

	_, err := s.search(context.Background(), SearchInput{Query: "x"})
	require.Error(t, err)

	assert.Zero(t, s.indexStatus().Queries.Total)
}

func TestServer_BackgroundIndexing(t *testing.T) {
	// Given: a server whose index is still being built
	progress := async.NewIndexProgress()
	progress.Observe(index.Progress{Files: 42})
	b := &fakeBackend{
		err:   yerrors.NotIndexed("/repo", ""),
		stats: &index.Stats{Err: yerrors.NotIndexed("/repo", "")},
	}
	s, err := NewServer(b, t.TempDir(), WithIndexProgress(progress))
	require.NoError(t, err)

	// When: searching and reporting status
	_, err = s.search(context.Background(), SearchInput{Query: "x"})
	out := s.indexStatus()

	// Then: both explain the build in progress
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexNotFound, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "42 files scanned")
	require.NotNil(t, out.Indexing)
	assert.Equal(t, "indexing", out.Indexing.Status)
	assert.Equal(t, 42, out.Indexing.FilesScanned)

	// And: once the build ends the usual error comes back
	progress.SetReady(nil)
	_, err = s.search(context.Background(), SearchInput{Query: "x"})
	require.ErrorAs(t, err, &mcpErr)
	assert.NotContains(t, mcpErr.Message, "still being built")
}

func TestServer_ReadResource(t *testing.T) {
	b := &fakeBackend{docs: map[string]*store.Document{
		"src/main.rs": {ID: "src/main.rs", Content: "fn main() {}\n", Size: 13},
	}}
	s := newTestServer(t, b)
	require.NoError(t, s.RegisterResources(context.Background()))

	res, err := s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "file://src/main.rs"},
	})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "fn main() {}\n", res.Contents[0].Text)
	assert.Equal(t, "text/x-rust", res.Contents[0].MIMEType)

	_, err = s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "file://src/missing.rs"},
	})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeFileNotFound, mcpErr.Code)

	_, err = s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "file://../etc/passwd"},
	})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_CloseReleasesBackend(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b)

	require.NoError(t, s.Close())
	assert.True(t, b.closed)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0, 20, 1, 200))
	assert.Equal(t, 20, clampLimit(-3, 20, 1, 200))
	assert.Equal(t, 7, clampLimit(7, 20, 1, 200))
	assert.Equal(t, 200, clampLimit(900, 20, 1, 200))
}
