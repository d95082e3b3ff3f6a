package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/search"
)

// Format selects how search results are printed.
type Format string

const (
	// FormatText is dense: one header line and the first matching line per hit.
	FormatText Format = "text"
	// FormatPretty lists line numbers for every matching line.
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
	// FormatFiles prints each matching path once.
	FormatFiles Format = "files"
	// FormatTree prints a directory heatmap of hit counts.
	FormatTree Format = "tree"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatText, FormatPretty, FormatJSON, FormatFiles, FormatTree}

// ParseFormat validates a format name. An empty name is FormatText.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatText, nil
	}
	for _, f := range Formats {
		if Format(strings.ToLower(s)) == f {
			return f, nil
		}
	}
	return "", yerrors.ValidationError(fmt.Sprintf("unknown format %q (want text, pretty, json, files or tree)", s), nil)
}

// ResultOptions controls result rendering.
type ResultOptions struct {
	Format Format
	// Scores adds the score to pretty output.
	Scores bool
	// TreeDepth limits the tree format; zero shows full paths.
	TreeDepth int
	// MaxLines caps the matching lines listed per hit in pretty output.
	MaxLines int
}

const (
	previewRunes    = 100
	defaultMaxLines = 5
)

// Results prints res in the requested format.
func (w *Writer) Results(res *search.Result, opts ResultOptions) error {
	switch opts.Format {
	case FormatJSON:
		return w.resultsJSON(res)
	case FormatFiles:
		w.resultsFiles(res)
	case FormatTree:
		_, _ = fmt.Fprint(w.out, TreeHeatmap(res.Hits, opts.TreeDepth))
	case FormatPretty:
		w.resultsPretty(res, opts)
	default:
		w.resultsText(res)
	}
	return nil
}

// header returns "# N results (summary)".
func header(res *search.Result) string {
	h := fmt.Sprintf("# %d results (%s)", len(res.Hits), typeSummary(res))
	if res.Total > len(res.Hits) {
		h += fmt.Sprintf(", %d total", res.Total)
	}
	return h
}

func typeSummary(res *search.Result) string {
	text, sem := res.Counts()
	switch {
	case text > 0 && sem > 0:
		return fmt.Sprintf("%d text + %d semantic", text, sem)
	case sem > 0:
		return "semantic"
	default:
		return "text"
	}
}

// matchIndicator marks hybrid hits with "+" and semantic-only hits with "~".
func matchIndicator(t search.MatchType) string {
	switch t {
	case search.MatchHybrid:
		return " +"
	case search.MatchSemantic:
		return " ~"
	default:
		return ""
	}
}

func linesLabel(h *search.Hit) string {
	if h.LineEnd <= h.LineStart {
		return fmt.Sprint(h.LineStart)
	}
	return fmt.Sprintf("%d-%d", h.LineStart, h.LineEnd)
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func (w *Writer) resultsText(res *search.Result) {
	_, _ = fmt.Fprintf(w.out, "%s\n\n", header(res))
	for _, h := range res.Hits {
		_, _ = fmt.Fprintf(w.out, "%s:%s (%.0f%%)%s\n",
			w.styles.Path.Render(h.Path), w.styles.LineNo.Render(fmt.Sprint(h.LineStart)), h.Score*100, matchIndicator(h.MatchType))
		if h.Snippet != "" {
			_, _ = fmt.Fprintf(w.out, "  %s\n", preview(h.Snippet, previewRunes))
		}
		_, _ = fmt.Fprintln(w.out)
	}
}

func (w *Writer) resultsPretty(res *search.Result, opts ResultOptions) {
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}

	_, _ = fmt.Fprintf(w.out, "%s\n\n", w.styles.Header.Render(header(res)))
	for _, h := range res.Hits {
		line := w.styles.Path.Render(h.Path) + ":" + w.styles.LineNo.Render(linesLabel(h))
		if opts.Scores {
			line += fmt.Sprintf(" (%.0f%%)", h.Score*100)
		}
		switch h.MatchType {
		case search.MatchHybrid:
			line += " " + w.styles.Hybrid.Render("[hybrid]")
		case search.MatchSemantic:
			line += " " + w.styles.Semantic.Render("[semantic]")
		}
		_, _ = fmt.Fprintln(w.out, line)

		if h.Snippet != "" {
			_, _ = fmt.Fprintf(w.out, "  %s: %s\n", w.styles.LineNo.Render(fmt.Sprint(h.LineStart)), preview(h.Snippet, 80))
		}
		if len(h.Lines) > 1 {
			more := h.Lines[1:]
			shown := more[:min(len(more), maxLines-1)]
			nums := make([]string, len(shown))
			for i, n := range shown {
				nums[i] = fmt.Sprint(n)
			}
			label := "also line " + strings.Join(nums, ", ")
			if extra := len(more) - len(shown); extra > 0 {
				label += fmt.Sprintf(" (+%d more)", extra)
			}
			_, _ = fmt.Fprintf(w.out, "  %s\n", w.styles.Label.Render(label))
		}
		_, _ = fmt.Fprintln(w.out)
	}
}

func (w *Writer) resultsFiles(res *search.Result) {
	seen := make(map[string]struct{}, len(res.Hits))
	for _, h := range res.Hits {
		if _, ok := seen[h.Path]; ok {
			continue
		}
		seen[h.Path] = struct{}{}
		_, _ = fmt.Fprintln(w.out, h.Path)
	}
}

// jsonResult is the machine-readable result shape.
type jsonResult struct {
	Hits         []*search.Hit `json:"hits"`
	Total        int           `json:"total"`
	TextHits     int           `json:"text_hits"`
	SemanticHits int           `json:"semantic_hits"`
	QueryTimeMS  int64         `json:"query_time_ms"`
	Warnings     []string      `json:"warnings,omitempty"`
}

func (w *Writer) resultsJSON(res *search.Result) error {
	text, sem := res.Counts()
	out := jsonResult{
		Hits:         res.Hits,
		Total:        res.Total,
		TextHits:     text,
		SemanticHits: sem,
		QueryTimeMS:  res.Duration.Milliseconds(),
		Warnings:     res.Warnings,
	}
	if out.Hits == nil {
		out.Hits = []*search.Hit{}
	}
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
