package cmd

import (
	"time"

	"github.com/spf13/cobra"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/ui"
)

func (a *app) newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show the index of a workspace",
		Long: `Show the mode, schema version, document and chunk counts, on-disk sizes
and vector status of the nearest indexed workspace at or above path.

Status only reads; it never creates an index directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func (a *app) runStatus(cmd *cobra.Command, args []string, jsonOutput bool) error {
	dir, err := a.startDir(args)
	if err != nil {
		return err
	}
	ws, err := a.store().Discover(dir)
	if err != nil {
		return err
	}
	b, err := a.builder(ws.Root)
	if err != nil {
		return err
	}

	info := statusInfo(index.Stat(b.Store(), ws))
	r := ui.NewStatusRenderer(cmd.OutOrStdout(), !a.color(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

func statusInfo(s *index.Stats) ui.StatusInfo {
	info := ui.StatusInfo{
		Root:     s.Workspace.Root,
		Identity: s.Workspace.Identity,
		IndexDir: s.Workspace.IndexDir,
	}
	if s.Err != nil {
		info.Problem = problem(s.Err)
		return info
	}

	m := s.Meta
	info.Indexed = true
	info.Mode = string(m.Mode)
	info.SchemaVersion = m.SchemaVersion
	info.TextBackend = m.TextBackend
	info.Documents = m.DocCount
	info.Chunks = m.ChunkCount
	info.VectorStatus = string(m.VectorStatus)
	info.Model = m.EmbeddingModel
	info.Dimensions = m.Dimensions
	info.CatalogBytes = s.CatalogBytes
	info.TextBytes = s.TextBytes
	info.VectorBytes = s.VectorBytes
	info.TotalBytes = s.TotalBytes
	info.LastBuild = m.LastBuildTime
	info.LastBuildDuration = time.Duration(m.LastBuildDurationMS) * time.Millisecond
	info.UpdatedAt = m.UpdatedAt
	return info
}

// problem renders an index error as "message (hint)".
func problem(err error) string {
	ye, ok := yerrors.As(err)
	if !ok {
		return err.Error()
	}
	if ye.Suggestion == "" {
		return ye.Message
	}
	return ye.Message + " (" + ye.Suggestion + ")"
}
