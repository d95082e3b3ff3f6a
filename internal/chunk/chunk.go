// Package chunk splits documents into overlapping line windows for
// embedding.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Defaults for line-window chunking.
const (
	DefaultLines    = 30
	DefaultOverlap  = 10
	DefaultMinBytes = 50
	DefaultMaxBytes = 4096
)

// Chunk is one embedded window of a document.
type Chunk struct {
	// ID is "<doc_id>#L<start>-<end>".
	ID        string
	DocID     string
	StartLine int // 1-indexed
	EndLine   int // inclusive
	Content   string
	Language  string
}

// FileInput is a document to be chunked.
type FileInput struct {
	Path     string
	Content  string
	Language string
}

// Chunker produces line windows of Lines lines, each starting Lines-Overlap
// lines after the previous one.
type Chunker struct {
	Lines    int
	Overlap  int
	MinBytes int
	MaxBytes int
}

// New returns a Chunker with default window sizes.
func New() *Chunker {
	return &Chunker{
		Lines:    DefaultLines,
		Overlap:  DefaultOverlap,
		MinBytes: DefaultMinBytes,
		MaxBytes: DefaultMaxBytes,
	}
}

// ID formats a chunk id.
func ID(docID string, start, end int) string {
	return fmt.Sprintf("%s#L%d-%d", docID, start, end)
}

// ParseID splits a chunk id back into its document id and line range.
func ParseID(id string) (docID string, start, end int, ok bool) {
	i := strings.LastIndex(id, "#L")
	if i < 0 {
		return "", 0, 0, false
	}
	if _, err := fmt.Sscanf(id[i+2:], "%d-%d", &start, &end); err != nil {
		return "", 0, 0, false
	}
	return id[:i], start, end, true
}

// Chunk splits file into windows. Windows whose trimmed content is shorter
// than MinBytes are dropped; content longer than MaxBytes is cut at a rune
// boundary.
func (c *Chunker) Chunk(file *FileInput) []*Chunk {
	lines := splitLines(file.Content)
	if len(lines) == 0 {
		return nil
	}

	size := c.Lines
	if size <= 0 {
		size = DefaultLines
	}
	step := size - c.Overlap
	if step <= 0 {
		step = size
	}

	var chunks []*Chunk
	for start := 0; start < len(lines); start += step {
		end := start + size
		if end > len(lines) {
			end = len(lines)
		}

		content := strings.Join(lines[start:end], "\n")
		if len(strings.TrimSpace(content)) >= c.MinBytes {
			chunks = append(chunks, &Chunk{
				ID:        ID(file.Path, start+1, end),
				DocID:     file.Path,
				StartLine: start + 1,
				EndLine:   end,
				Content:   truncate(content, c.MaxBytes),
				Language:  file.Language,
			})
		}

		if end == len(lines) {
			break
		}
	}
	return chunks
}

// EmbedText is the text sent to the embedder: a path marker followed by the
// window content.
func (ch *Chunk) EmbedText() string {
	marker := "// File: "
	if ch.Language == "python" || ch.Language == "shell" || ch.Language == "ruby" {
		marker = "# File: "
	}
	return marker + ch.DocID + "\n" + ch.Content
}

func splitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
