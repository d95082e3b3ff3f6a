package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ygrep/internal/async"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/mcp"
)

func (a *app) newMCPCmd() *cobra.Command {
	var (
		build bool
		modes modeFlags
	)
	cmd := &cobra.Command{
		Use:   "mcp [path]",
		Short: "Serve search over MCP on stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout for AI coding
assistants. It exposes the "search" and "index_status" tools and every
indexed file as a resource.

Stdout carries only protocol messages; logs go to the log file (and to
stderr with --debug). The index is reopened when another process
rebuilds or updates it.

With --index the server starts answering immediately and brings the index
up to date in the background; index_status reports the build's progress.`,
		Example: `  # Claude Code
  claude mcp add ygrep -- ygrep mcp /path/to/project

  # Index on startup
  ygrep mcp --index --semantic /path/to/project`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !build && modes.mode() != nil {
				return yerrors.ValidationError("--text and --semantic require --index", nil)
			}
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

			var opts []mcp.Option
			if build {
				bg := async.NewBackgroundIndexer(func(ctx context.Context, progress index.ProgressFunc) (*index.Summary, error) {
					return b.Build(ctx, ws, index.BuildOptions{Mode: modes.mode(), Progress: progress})
				})
				bg.Start(ctx)
				defer bg.Stop()
				opts = append(opts, mcp.WithIndexProgress(bg.Progress()))
			}

			srv, err := mcp.NewServer(mcp.NewIndexBackend(b, ws), ws.Root, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			return srv.Serve(ctx, "stdio")
		},
	}
	cmd.Flags().BoolVar(&build, "index", false, "Build or update the index in the background on startup")
	modes.bind(cmd)
	return cmd
}
