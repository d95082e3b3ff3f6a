package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/ui"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

// modeFlags holds the mutually exclusive --text/--semantic pair.
type modeFlags struct {
	text     bool
	semantic bool
}

func (m *modeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&m.text, "text", false, "Maintain the text index only (sticky)")
	cmd.Flags().BoolVar(&m.semantic, "semantic", false, "Also maintain the embedding index (sticky)")
	cmd.MarkFlagsMutuallyExclusive("text", "semantic")
}

// mode returns the explicit mode, or nil to keep the stored one.
func (m *modeFlags) mode() *workspace.Mode {
	var mode workspace.Mode
	switch {
	case m.semantic:
		mode = workspace.ModeSemantic
	case m.text:
		mode = workspace.ModeText
	default:
		return nil
	}
	return &mode
}

func (a *app) newIndexCmd() *cobra.Command {
	var (
		modes   = &modeFlags{}
		rebuild bool
		plain   bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or refresh the index of a directory tree",
		Long: `Index a directory tree. Unchanged files are skipped, so running it
again only re-reads what changed.

The mode is sticky: --semantic keeps the embedding index maintained on
later builds and updates until --text switches it off. When no embedder
is available a semantic build falls back to text and says so.`,
		Example: `  ygrep index
  ygrep index ~/src/project --semantic
  ygrep index --rebuild`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runIndex(ctx, cmd, args, modes.mode(), rebuild, plain)
		},
	}

	modes.bind(cmd)
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Discard the existing index and build from scratch")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output instead of the interactive display")

	return cmd
}

func (a *app) runIndex(ctx context.Context, cmd *cobra.Command, args []string, mode *workspace.Mode, rebuild, plain bool) error {
	dir, err := a.startDir(args)
	if err != nil {
		return err
	}
	b, err := a.builder(dir)
	if err != nil {
		return err
	}
	ws, err := b.Store().Resolve(dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := cmd.OutOrStdout()
	renderer := ui.NewRenderer(ui.NewConfig(out,
		ui.WithForcePlain(plain),
		ui.WithNoColor(!a.color(out)),
		ui.WithRoot(ws.Root),
		ui.WithInterrupt(cancel),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	sum, err := b.Build(ctx, ws, index.BuildOptions{
		Mode:     mode,
		Rebuild:  rebuild,
		Progress: progressBridge(renderer),
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Warn("index_interrupted", slog.String("root", ws.Root))
		}
		return err
	}

	for _, f := range sum.Failures {
		renderer.AddError(ui.ErrorEvent{File: f.Path, Err: f.Err, IsWarn: true})
	}
	renderer.Complete(completionStats(b, ws, sum))
	return nil
}

// progressBridge forwards build progress to the renderer.
func progressBridge(r ui.Renderer) index.ProgressFunc {
	return func(p index.Progress) {
		stage := ui.StageScanning
		if p.Done {
			stage = ui.StageSaving
		}
		r.UpdateProgress(ui.ProgressEvent{
			Stage:       stage,
			Files:       p.Files,
			Indexed:     p.Indexed,
			Unchanged:   p.Unchanged,
			Skipped:     p.Skipped,
			CurrentFile: p.Path,
		})
	}
}

func completionStats(b *index.Builder, ws *workspace.Workspace, sum *index.Summary) ui.CompletionStats {
	stats := ui.CompletionStats{
		Indexed:      sum.Indexed,
		Unchanged:    sum.Unchanged,
		Removed:      sum.Removed,
		Skipped:      sum.Skipped,
		Chunks:       sum.Chunks,
		Duration:     sum.Duration,
		VectorStatus: string(sum.VectorStatus),
		Warnings:     sum.Warnings,
	}
	meta, err := b.Store().Open(ws)
	if err != nil {
		slog.Debug("metadata_unreadable", yerrors.LogAttrs(err)...)
		return stats
	}
	stats.Mode = string(meta.Mode)
	stats.Model = meta.EmbeddingModel
	return stats
}
