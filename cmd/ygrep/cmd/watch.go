package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/output"
	"github.com/Aman-CERP/ygrep/internal/watcher"
	"github.com/Aman-CERP/ygrep/internal/workspace"
)

func (a *app) newWatchCmd() *cobra.Command {
	var (
		modes   = &modeFlags{}
		polling bool
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index current while files change",
		Long: `Bring the index up to date, then apply file changes as they happen
until interrupted. Bursts of events are debounced into batches. The index
stays locked against other writers for the whole session, and the tree is
re-checked once the watches are in place.

Filesystem notifications are used where available; --poll (or
watch.use_polling) compares directory snapshots instead, for network and
container filesystems.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runWatch(ctx, cmd, args, modes.mode(), polling)
		},
	}

	modes.bind(cmd)
	cmd.Flags().BoolVar(&polling, "poll", false, "Poll for changes instead of using filesystem notifications")

	return cmd
}

func (a *app) runWatch(ctx context.Context, cmd *cobra.Command, args []string, mode *workspace.Mode, polling bool) error {
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
	out := output.New(cmd.OutOrStdout(), output.WithColor(a.color(cmd.OutOrStdout())))

	out.Statusf("", "Indexing %s", ws.Root)
	sum, u, err := b.BuildUpdater(ctx, ws, index.BuildOptions{Mode: mode})
	if err != nil {
		return err
	}
	defer func() { _ = u.Close() }()
	out.Success(sum.String())
	for _, w := range sum.Warnings {
		out.Warning(w)
	}

	u.OnBatch = func(s *index.Summary) {
		if !s.Changed() && s.Skipped == 0 {
			return
		}
		out.Statusf("~", "%d updated, %d removed", s.Indexed, s.Removed)
		for _, f := range s.Failures {
			out.Warningf("%s: %v", f.Path, f.Err)
		}
	}

	opts := b.WatchOptions()
	if polling {
		opts.UsePolling = true
	}
	out.Status("", "Watching for changes (ctrl+c to stop)")
	slog.Info("watch_started", slog.String("root", ws.Root), slog.Bool("polling", opts.UsePolling))

	if err := u.Run(ctx, watcher.New(opts)); err != nil {
		return err
	}
	slog.Info("watch_stopped", slog.String("root", ws.Root))
	out.Status("", "Stopped")
	return nil
}
