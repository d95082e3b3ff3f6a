package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/ygrep/internal/search"
)

// toSearchOutput converts an engine result to the tool output.
func toSearchOutput(res *search.Result) SearchOutput {
	text, sem := res.Counts()
	out := SearchOutput{
		Results:      make([]SearchResultOutput, 0, len(res.Hits)),
		Total:        res.Total,
		TextHits:     text,
		SemanticHits: sem,
		Warnings:     res.Warnings,
	}
	for _, h := range res.Hits {
		out.Results = append(out.Results, SearchResultOutput{
			FilePath:  h.Path,
			LineStart: h.LineStart,
			LineEnd:   h.LineEnd,
			Lines:     h.Lines,
			Snippet:   h.Snippet,
			Score:     h.Score,
			MatchType: string(h.MatchType),
		})
	}
	return out
}

// FormatSearchResults renders out as markdown.
func FormatSearchResults(query string, out SearchOutput) string {
	if len(out.Results) == 0 {
		msg := fmt.Sprintf("No results found for \"%s\"", query)
		for _, w := range out.Warnings {
			msg += "\n\n> " + w
		}
		return msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Showing %d of %d result", len(out.Results), out.Total)
	if out.Total != 1 {
		sb.WriteString("s")
	}
	if out.SemanticHits > 0 {
		fmt.Fprintf(&sb, " (%d text, %d semantic)", out.TextHits, out.SemanticHits)
	}
	sb.WriteString("\n\n")
	for _, w := range out.Warnings {
		fmt.Fprintf(&sb, "> %s\n\n", w)
	}

	for i, r := range out.Results {
		fmt.Fprintf(&sb, "### %d. %s:%s (score: %.2f, %s)\n", i+1, r.FilePath, lineSpan(r), r.Score, r.MatchType)
		if len(r.Lines) > 1 {
			fmt.Fprintf(&sb, "Lines: %s\n", joinInts(r.Lines, 10))
		}
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "```%s\n%s\n```\n", fenceLanguage(r.FilePath), r.Snippet)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func lineSpan(r SearchResultOutput) string {
	if r.LineEnd > r.LineStart {
		return fmt.Sprintf("%d-%d", r.LineStart, r.LineEnd)
	}
	return fmt.Sprint(r.LineStart)
}

// joinInts lists at most n values, then a count of the rest.
func joinInts(vals []int, n int) string {
	parts := make([]string, 0, min(len(vals), n))
	for _, v := range vals[:min(len(vals), n)] {
		parts = append(parts, fmt.Sprint(v))
	}
	s := strings.Join(parts, ", ")
	if len(vals) > n {
		s += fmt.Sprintf(" (+%d more)", len(vals)-n)
	}
	return s
}

// fenceLanguage is the code fence hint for a path's extension.
func fenceLanguage(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || strings.ContainsRune(path[i:], '/') {
		return ""
	}
	ext := strings.ToLower(path[i+1:])
	switch ext {
	case "rs":
		return "rust"
	case "py":
		return "python"
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx", "mjs":
		return "javascript"
	case "md":
		return "markdown"
	case "yml":
		return "yaml"
	case "sh", "bash", "zsh":
		return "sh"
	}
	return ext
}
