package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ygrep/internal/config"
	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
	"github.com/Aman-CERP/ygrep/internal/output"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
		Long: `Inspect the effective configuration or create a user config file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config ($XDG_CONFIG_HOME/ygrep/config.yaml)
  3. Project config (.ygrep.yaml at the workspace root)
  4. Environment variables (YGREP_*)`,
		Example: `  ygrep config show
  ygrep config show --json
  ygrep config path
  ygrep config init`,
	}

	cmd.AddCommand(a.newConfigShowCmd())
	cmd.AddCommand(a.newConfigPathCmd())
	cmd.AddCommand(a.newConfigInitCmd())

	return cmd
}

func (a *app) newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.cfg)
			}
			data, err := a.cfg.YAML()
			if err != nil {
				return yerrors.InternalError("render config", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func (a *app) newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print config, data and log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			out.Statusf("", "user config:  %s", config.UserConfigPath())
			if p := projectConfig(a.cfgDir); p != "" {
				out.Statusf("", "project:      %s", p)
			}
			out.Statusf("", "data dir:     %s", a.cfg.DataDir)
			if a.logPath != "" {
				out.Statusf("", "log file:     %s", a.logPath)
			}
			return nil
		},
	}
}

func projectConfig(dir string) string {
	for _, name := range config.ProjectConfigNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (a *app) newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the user config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout(), output.WithColor(a.color(cmd.OutOrStdout())))
			path := config.UserConfigPath()
			if path == "" {
				return yerrors.ConfigError("cannot determine the user config directory", nil)
			}
			if _, err := os.Stat(path); err == nil && !force {
				out.Warning("User configuration already exists")
				out.Statusf("", "Location: %s", path)
				out.Status("", "Use --force to overwrite it with defaults")
				return nil
			}

			data, err := config.NewConfig().YAML()
			if err != nil {
				return yerrors.InternalError("render config", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return yerrors.IOFailure(filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return yerrors.IOFailure(path, err)
			}
			out.Success("Created user configuration")
			out.Statusf("", "Location: %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing user config")

	return cmd
}
