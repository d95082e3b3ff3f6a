package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo describes one workspace index.
type StatusInfo struct {
	Root     string `json:"root"`
	Identity string `json:"identity"`
	IndexDir string `json:"index_dir"`
	// Indexed is false when the workspace has no usable index; only Root,
	// Identity and Problem are set then.
	Indexed bool   `json:"indexed"`
	Problem string `json:"problem,omitempty"`

	Mode          string `json:"mode,omitempty"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	TextBackend   string `json:"text_backend,omitempty"`
	Documents     int    `json:"documents"`
	Chunks        int    `json:"chunks"`
	VectorStatus  string `json:"vector_status,omitempty"`
	Model         string `json:"embedding_model,omitempty"`
	Dimensions    int    `json:"dimensions,omitempty"`

	CatalogBytes int64 `json:"catalog_bytes"`
	TextBytes    int64 `json:"text_bytes"`
	VectorBytes  int64 `json:"vector_bytes"`
	TotalBytes   int64 `json:"total_bytes"`

	LastBuild         time.Time     `json:"last_build,omitempty"`
	LastBuildDuration time.Duration `json:"last_build_duration_ns,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at,omitempty"`
}

// IndexRow is one line of an index listing.
type IndexRow struct {
	Identity  string    `json:"identity"`
	Root      string    `json:"root"`
	Mode      string    `json:"mode"`
	Documents int       `json:"documents"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Orphaned  bool      `json:"orphaned"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor), now: time.Now}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index status: "+info.Root))

	if !info.Indexed {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render("not indexed"))
		if info.Problem != "" {
			_, _ = fmt.Fprintf(r.out, "  %s\n", info.Problem)
		}
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  Mode:       %s\n", info.Mode)
	_, _ = fmt.Fprintf(r.out, "  Schema:     v%d\n", info.SchemaVersion)
	_, _ = fmt.Fprintf(r.out, "  Documents:  %s\n", humanize.Comma(int64(info.Documents)))
	if info.Mode == "semantic" {
		_, _ = fmt.Fprintf(r.out, "  Chunks:     %s\n", humanize.Comma(int64(info.Chunks)))
		_, _ = fmt.Fprintf(r.out, "  Vectors:    %s\n", r.vectorStatus(info))
	}
	if !info.LastBuild.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last build: %s (%s)\n",
			humanize.RelTime(info.LastBuild, r.now(), "ago", "from now"),
			info.LastBuildDuration.Round(time.Millisecond))
	}
	if !info.UpdatedAt.IsZero() && info.UpdatedAt.After(info.LastBuild) {
		_, _ = fmt.Fprintf(r.out, "  Updated:    %s\n", humanize.RelTime(info.UpdatedAt, r.now(), "ago", "from now"))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Catalog:  %s\n", FormatBytes(info.CatalogBytes))
	_, _ = fmt.Fprintf(r.out, "    Text:     %s (%s)\n", FormatBytes(info.TextBytes), info.TextBackend)
	if info.VectorBytes > 0 {
		_, _ = fmt.Fprintf(r.out, "    Vectors:  %s\n", FormatBytes(info.VectorBytes))
	}
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalBytes))
	_, _ = fmt.Fprintf(r.out, "    Location: %s\n", r.styles.Dim.Render(info.IndexDir))
	return nil
}

func (r *StatusRenderer) vectorStatus(info StatusInfo) string {
	switch info.VectorStatus {
	case "ready":
		return r.styles.Success.Render("ready") + fmt.Sprintf(" (%s, %d dims)", info.Model, info.Dimensions)
	case "unsupported":
		return r.styles.Warning.Render("unsupported") + " (text-only fallback)"
	default:
		return r.styles.Dim.Render("none")
	}
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// RenderList prints one line per index.
func (r *StatusRenderer) RenderList(rows []IndexRow) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.out, "No indexes.")
		return nil
	}
	var total int64
	for _, row := range rows {
		mode := row.Mode
		if mode == "" {
			mode = "?"
		}
		line := fmt.Sprintf("%s  %-8s %8s  %9s  %s",
			row.Identity, mode, humanize.Comma(int64(row.Documents)), FormatBytes(row.SizeBytes), row.Root)
		if row.Orphaned {
			line = r.styles.Warning.Render(line + "  (orphaned)")
		}
		_, _ = fmt.Fprintln(r.out, line)
		total += row.SizeBytes
	}
	_, _ = fmt.Fprintf(r.out, "\n%d indexes, %s\n", len(rows), FormatBytes(total))
	return nil
}

// RenderListJSON outputs the listing as JSON.
func (r *StatusRenderer) RenderListJSON(rows []IndexRow) error {
	if rows == nil {
		rows = []IndexRow{}
	}
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}

// FormatBytes formats a size in binary units.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
