package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ygrep/internal/output"
	"github.com/Aman-CERP/ygrep/internal/ui"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

func (a *app) newIndexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Manage stored indexes",
		Long: `List, remove and clean the indexes kept under the data directory.

An index is orphaned when its workspace root no longer exists or its
metadata cannot be read.`,
		Example: `  ygrep indexes list
  ygrep indexes remove ~/src/old-project
  ygrep indexes remove 3f2a9c0d1e4b5a67
  ygrep indexes clean`,
	}

	cmd.AddCommand(a.newIndexesListCmd())
	cmd.AddCommand(a.newIndexesRemoveCmd())
	cmd.AddCommand(a.newIndexesCleanCmd())

	return cmd
}

func (a *app) newIndexesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every index with its mode, size and root",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.store().List()
			if err != nil {
				return err
			}
			rows := make([]ui.IndexRow, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, indexRow(e))
			}
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), !a.color(cmd.OutOrStdout()))
			if jsonOutput {
				return r.RenderListJSON(rows)
			}
			return r.RenderList(rows)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func (a *app) newIndexesRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <identity|path>",
		Aliases: []string{"rm"},
		Short:   "Delete one index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.store().Remove(args[0])
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), output.WithColor(a.color(cmd.OutOrStdout())))
			out.Successf("Removed %s (%s, %s)", e.Workspace.Identity, rootLabel(*e), ui.FormatBytes(e.SizeBytes))
			return nil
		},
	}
	return cmd
}

// cleanResult is the JSON form of a clean pass.
type cleanResult struct {
	Removed    []ui.IndexRow `json:"removed"`
	FreedBytes int64         `json:"freed_bytes"`
}

func (a *app) newIndexesCleanCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete orphaned indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.store().Clean()
			if err != nil {
				return err
			}

			if jsonOutput {
				out := cleanResult{Removed: []ui.IndexRow{}, FreedBytes: res.FreedBytes}
				for _, e := range res.Removed {
					out.Removed = append(out.Removed, indexRow(e))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			out := output.New(cmd.OutOrStdout(), output.WithColor(a.color(cmd.OutOrStdout())))
			if len(res.Removed) == 0 {
				out.Success("No orphaned indexes")
				return nil
			}
			for _, e := range res.Removed {
				out.Statusf("-", "%s  %s", e.Workspace.Identity, rootLabel(e))
			}
			out.Successf("Removed %d indexes, freed %s", len(res.Removed), ui.FormatBytes(res.FreedBytes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func indexRow(e workspace.Entry) ui.IndexRow {
	row := ui.IndexRow{
		Identity:  e.Workspace.Identity,
		Root:      e.Workspace.Root,
		Mode:      string(e.Mode),
		SizeBytes: e.SizeBytes,
		Orphaned:  e.Orphaned,
	}
	if e.Metadata != nil {
		row.Documents = e.Metadata.DocCount
		row.UpdatedAt = e.Metadata.UpdatedAt
	}
	return row
}

func rootLabel(e workspace.Entry) string {
	if e.Workspace.Root == "" {
		return "unknown root"
	}
	return e.Workspace.Root
}
