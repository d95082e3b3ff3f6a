package mcp

import (
	"time"

	"github.com/Aman-CERP/ygrep/internal/async"
	"github.com/Aman-CERP/ygrep/internal/telemetry"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the text to find; a literal substring unless regex is set"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
	Regex      bool     `json:"regex,omitempty" jsonschema:"treat the query as a case-insensitive regular expression"`
	Extensions []string `json:"extensions,omitempty" jsonschema:"only return files with these extensions, e.g. go, rs"`
	Paths      []string `json:"paths,omitempty" jsonschema:"only return files whose path starts with or contains one of these"`
	TextOnly   bool     `json:"text_only,omitempty" jsonschema:"skip semantic retrieval"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results      []SearchResultOutput `json:"results" jsonschema:"ranked matches"`
	Total        int                  `json:"total" jsonschema:"matches before the limit was applied"`
	TextHits     int                  `json:"text_hits"`
	SemanticHits int                  `json:"semantic_hits"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// SearchResultOutput is one ranked file.
type SearchResultOutput struct {
	FilePath  string  `json:"file_path" jsonschema:"file path relative to the workspace root"`
	LineStart int     `json:"line_start" jsonschema:"first matching line, 1-based"`
	LineEnd   int     `json:"line_end"`
	Lines     []int   `json:"lines,omitempty" jsonschema:"every matching line for text matches"`
	Snippet   string  `json:"snippet" jsonschema:"the first matching line"`
	Score     float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	MatchType string  `json:"match_type" jsonschema:"text, semantic or hybrid"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project ProjectInfo `json:"project"`
	Indexed bool        `json:"indexed"`
	// Problem explains why the index cannot be used.
	Problem    string        `json:"problem,omitempty"`
	Stats      IndexStats    `json:"stats"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	// Indexing is present when the server was started with --index.
	Indexing *async.IndexProgressSnapshot `json:"indexing,omitempty"`
	Queries  QueryStats                   `json:"queries"`
}

// QueryStats summarizes the searches answered since the server started.
type QueryStats struct {
	Total       int64                 `json:"total"`
	ZeroResults int64                 `json:"zero_results"`
	RepeatRate  float64               `json:"repeat_rate"`
	ByKind      map[string]int64      `json:"by_kind,omitempty"`
	Latency     map[string]int64      `json:"latency,omitempty"`
	TopTerms    []telemetry.TermCount `json:"top_terms,omitempty"`
	RecentZero  []string              `json:"recent_zero_result_queries,omitempty"`
	Since       string                `json:"since"`
}

func toQueryStats(s *telemetry.Snapshot) QueryStats {
	out := QueryStats{
		Total:       s.TotalQueries,
		ZeroResults: s.ZeroResultCount,
		RepeatRate:  s.RepeatRate(),
		TopTerms:    s.TopTerms,
		RecentZero:  s.ZeroResultQueries,
		Since:       s.Since.Format(time.RFC3339),
	}
	if len(s.KindCounts) > 0 {
		out.ByKind = make(map[string]int64, len(s.KindCounts))
		for k, v := range s.KindCounts {
			out.ByKind[string(k)] = v
		}
	}
	if len(s.Latency) > 0 {
		out.Latency = make(map[string]int64, len(s.Latency))
		for k, v := range s.Latency {
			out.Latency[string(k)] = v
		}
	}
	return out
}

// ProjectInfo contains information about the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	Mode           string `json:"mode,omitempty"`
	TextBackend    string `json:"text_backend,omitempty"`
	FileCount      int    `json:"file_count"`
	ChunkCount     int    `json:"chunk_count"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	LastIndexed    string `json:"last_indexed,omitempty"`
}

// EmbeddingInfo describes the vector index, if any.
type EmbeddingInfo struct {
	// Status is ready, unsupported or none.
	Status     string `json:"status"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}
