package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ygrep/internal/async"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/search"
	"github.com/Aman-CERP/ygrep/internal/telemetry"
	"github.com/Aman-CERP/ygrep/internal/workspace"
	"github.com/Aman-CERP/ygrep/pkg/version"
)

const (
	serverName = "ygrep"

	searchToolDescription = "Search the indexed workspace. Literal queries match case-insensitive substrings " +
		"and, when the workspace has a semantic index, also return conceptually related code. " +
		"Set regex for regular expressions. Filter by extensions or path fragments."
	statusToolDescription = "Report whether the workspace is indexed, its mode, document and chunk counts, " +
		"size and embedding model, plus query statistics and background build progress. " +
		"Use before searching to check semantic search is available."

	defaultToolLimit = 20
	maxToolLimit     = 200

	statusTopTerms = 10
)

// Server is the MCP server for ygrep. It answers search and status
// requests for one workspace.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	root    string
	logger  *slog.Logger
	metrics *telemetry.QueryMetrics
	// indexing is set while the server builds its own index.
	indexing *async.IndexProgress
}

// Option configures a Server.
type Option func(*Server)

// WithIndexProgress reports a background build in index_status and
// explains NotIndexed search failures while it runs.
func WithIndexProgress(p *async.IndexProgress) Option {
	return func(s *Server) { s.indexing = p }
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server answering from backend. root is the
// workspace root used for project detection.
func NewServer(backend Backend, root string, opts ...Option) (*Server, error) {
	if backend == nil {
		return nil, errors.New("index backend is required")
	}

	s := &Server{
		backend: backend,
		root:    root,
		logger:  slog.Default(),
		metrics: telemetry.New(telemetry.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: serverName, Version: version.Short()},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "search", Description: searchToolDescription},
		{Name: "index_status", Description: statusToolDescription},
	}
}

// CallTool invokes a tool by name with JSON-style arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		in, err := searchInputFromArgs(args)
		if err != nil {
			return nil, err
		}
		out, err := s.search(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "index_status":
		return s.indexStatus(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func searchInputFromArgs(args map[string]any) (SearchInput, error) {
	var in SearchInput
	q, ok := args["query"].(string)
	if !ok {
		return in, NewInvalidParamsError("query parameter is required and must be a string")
	}
	in.Query = q
	if l, ok := args["limit"].(float64); ok {
		in.Limit = int(l)
	}
	in.Regex, _ = args["regex"].(bool)
	in.TextOnly, _ = args["text_only"].(bool)
	in.Extensions = stringList(args["extensions"])
	in.Paths = stringList(args["paths"])
	return in, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// search validates input, runs the query and converts the result.
func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(in.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	q := search.Query{
		Text:       in.Query,
		Limit:      clampLimit(in.Limit, defaultToolLimit, 1, maxToolLimit),
		Extensions: in.Extensions,
		Paths:      in.Paths,
		TextOnly:   in.TextOnly,
	}
	if in.Regex {
		q.Mode = search.ModeRegex
	}

	s.logger.Info("mcp_search_started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.String("mode", q.Mode.String()),
		slog.Int("limit", q.Limit))

	res, err := s.backend.Search(ctx, q)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		if s.stillIndexing(err) {
			snap := s.indexing.Snapshot()
			return SearchOutput{}, &MCPError{
				Code:    ErrCodeIndexNotFound,
				Message: fmt.Sprintf("The index is still being built (%d files scanned). Retry shortly.", snap.FilesScanned),
			}
		}
		return SearchOutput{}, MapError(err)
	}

	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(res.Hits)))
	s.metrics.Record(telemetry.QueryEvent{
		Query:       in.Query,
		Kind:        queryKind(q, res),
		ResultCount: len(res.Hits),
		Latency:     duration,
	})

	return toSearchOutput(res), nil
}

func (s *Server) stillIndexing(err error) bool {
	return s.indexing != nil && s.indexing.IsIndexing() &&
		yerrors.GetCode(err) == yerrors.ErrCodeNotIndexed
}

func queryKind(q search.Query, res *search.Result) telemetry.QueryKind {
	if q.Mode == search.ModeRegex {
		return telemetry.KindRegex
	}
	if _, semantic := res.Counts(); semantic > 0 {
		return telemetry.KindHybrid
	}
	return telemetry.KindText
}

// indexStatus never fails: an unusable index is reported in Problem.
func (s *Server) indexStatus() *IndexStatusOutput {
	stats := s.backend.Stats()
	out := &IndexStatusOutput{
		Project:    DetectProject(s.root),
		Embeddings: EmbeddingInfo{Status: "none"},
		Queries:    toQueryStats(s.metrics.Snapshot(statusTopTerms)),
	}
	if s.indexing != nil {
		snap := s.indexing.Snapshot()
		out.Indexing = &snap
	}
	out.Stats.IndexSizeBytes = stats.TotalBytes

	if stats.Err != nil {
		out.Problem = MapError(stats.Err).Message
		return out
	}

	meta := stats.Meta
	out.Indexed = true
	out.Stats.Mode = string(meta.Mode)
	out.Stats.TextBackend = meta.TextBackend
	out.Stats.FileCount = meta.DocCount
	out.Stats.ChunkCount = meta.ChunkCount
	if !meta.LastBuildTime.IsZero() {
		out.Stats.LastIndexed = meta.LastBuildTime.Format(time.RFC3339)
	}
	switch {
	case meta.HasVectors():
		out.Embeddings = EmbeddingInfo{Status: "ready", Model: meta.EmbeddingModel, Dimensions: meta.Dimensions}
	case meta.VectorStatus == workspace.VectorUnsupported:
		out.Embeddings.Status = "unsupported"
	}
	return out
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search", Description: searchToolDescription}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "index_status", Description: statusToolDescription}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

// mcpSearchHandler is the MCP SDK handler for the search tool. The text
// content is markdown; the structured content is SearchOutput.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.search(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(in.Query, out)}},
	}, out, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(), nil
}

// Serve runs the server on the given transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("root", s.root))

	switch transport {
	case "stdio", "":
		if err := s.RegisterResources(ctx); err != nil {
			s.logger.Warn("mcp_resources_unavailable", slog.String("error", err.Error()))
		}
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases the backend.
func (s *Server) Close() error {
	return s.backend.Close()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return min(max(limit, lo), hi)
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
