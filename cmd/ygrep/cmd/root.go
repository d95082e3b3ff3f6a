// Package cmd provides the CLI commands for ygrep.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ygrep/internal/config"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/index"
	"github.com/Aman-CERP/ygrep/internal/logging"
	"github.com/Aman-CERP/ygrep/internal/profiling"
	"github.com/Aman-CERP/ygrep/internal/ui"
	"github.com/Aman-CERP/ygrep/internal/workspace"
	"github.com/Aman-CERP/ygrep/pkg/version"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	workspaceDir string
	debug        bool
	noColor      bool
	profile      profiling.Options

	profiler   *profiling.Session
	cfg        *config.Config
	cfgDir     string
	logPath    string
	logCleanup func()
}

// NewRootCmd creates the root command for the ygrep CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	var search searchOptions

	cmd := &cobra.Command{
		Use:   "ygrep [query...]",
		Short: "Fast local code search with optional semantic ranking",
		Long: `ygrep indexes a directory tree and answers literal, regex and
natural-language queries against it.

Indexes live outside the workspace, one per directory tree. A text index
is always built; 'ygrep index --semantic' adds an embedding index and
turns on hybrid ranking.

  ygrep index              index the current directory
  ygrep "parse config"     search it (shorthand for 'ygrep search')`,
		Version:       version.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.runSearch(cmd, strings.Join(args, " "), search)
		},
	}

	cmd.SetVersionTemplate("ygrep version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&a.workspaceDir, "workspace", "C", "", "Run as if started in this directory")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&a.profile.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&a.profile.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "profile-trace", "", "Write an execution trace to this file")
	bindSearchFlags(cmd, &search)

	cmd.PersistentPreRunE = a.setup
	cmd.PersistentPostRunE = a.teardown

	cmd.AddCommand(a.newIndexCmd())
	cmd.AddCommand(a.newSearchCmd())
	cmd.AddCommand(a.newStatusCmd())
	cmd.AddCommand(a.newWatchCmd())
	cmd.AddCommand(a.newIndexesCmd())
	cmd.AddCommand(a.newMCPCmd())
	cmd.AddCommand(a.newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd, a
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	root, a := newRootCmd()
	err := root.Execute()
	_ = a.teardown(root, nil)
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	if _, ok := yerrors.As(err); ok {
		_, _ = fmt.Fprint(w, yerrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// setup loads configuration for the start directory and installs the
// default logger.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	dir, err := a.startDir(nil)
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.cfg, a.cfgDir = cfg, dir

	logCfg := logging.DefaultConfig(cfg.DataDir)
	if a.debug {
		logCfg = logging.DebugConfig(cfg.DataDir)
	} else {
		logCfg.Level = cfg.Logging.Level
	}
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Unwritable data dir: log to stderr under --debug, otherwise discard.
		logger, cleanup, _ = logging.Setup(logging.Config{Level: logCfg.Level, WriteToStderr: a.debug})
	}
	a.logPath, a.logCleanup = logCfg.Path(), cleanup
	slog.SetDefault(logger)
	slog.Debug("debug logging enabled", slog.String("log_file", a.logPath), slog.String("version", version.Short()))

	if a.profile.Enabled() {
		if a.profiler, err = profiling.Start(a.profile); err != nil {
			return err
		}
	}
	return nil
}

// teardown stops profiling and closes the log file. Cobra skips it when
// RunE fails, so Execute calls it too.
func (a *app) teardown(_ *cobra.Command, _ []string) error {
	var err error
	if a.profiler != nil {
		err = a.profiler.Stop()
		a.profiler = nil
	}
	if a.logCleanup != nil {
		a.logCleanup()
		a.logCleanup = nil
	}
	return err
}

// startDir returns the absolute directory a command operates on: the
// first positional argument, then --workspace, then the working
// directory.
func (a *app) startDir(args []string) (string, error) {
	dir := "."
	switch {
	case len(args) > 0 && args[0] != "":
		dir = args[0]
	case a.workspaceDir != "":
		dir = a.workspaceDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", yerrors.IOFailure(dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", yerrors.NotFound(abs)
	}
	if !info.IsDir() {
		return "", yerrors.ValidationError(abs+" is not a directory", nil)
	}
	return abs, nil
}

// configFor returns the configuration for a workspace root, reloading it
// when the root differs from the directory setup ran in so the root's
// project config applies.
func (a *app) configFor(root string) (*config.Config, error) {
	if a.cfg != nil && root == a.cfgDir {
		return a.cfg, nil
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	a.cfg, a.cfgDir = cfg, root
	return cfg, nil
}

func (a *app) store() *workspace.Store {
	return workspace.NewStore(a.cfg.DataDir)
}

// builder returns an index builder configured for root.
func (a *app) builder(root string) (*index.Builder, error) {
	cfg, err := a.configFor(root)
	if err != nil {
		return nil, err
	}
	return index.NewBuilder(workspace.NewStore(cfg.DataDir), cfg), nil
}

// color reports whether styled output should be written to w.
func (a *app) color(w io.Writer) bool {
	return !a.noColor && !ui.DetectNoColor() && ui.IsTTY(w)
}
