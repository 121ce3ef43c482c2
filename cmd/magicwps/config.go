// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/issue"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `magicwps config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage magicwps configuration",
		Long: `Manage magicwps configuration.

Configuration is stored in:
  - Linux: ~/.config/magicwps/config.cue
  - macOS: ~/Library/Application Support/magicwps/config.cue
  - Windows: %APPDATA%\magicwps\config.cue

A config.cue in the working directory takes precedence, and MAGICWPS_*
environment variables override both (for example MAGICWPS_SERVER_PORT).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	var format string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE or TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "cue":
				fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			case "toml":
				out, err := config.GenerateTOML(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(app.stdout, out)
			default:
				return fmt.Errorf("unsupported format %q (use cue or toml)", format)
			}
			return nil
		},
	}
	dump.Flags().StringVar(&format, "format", "cue", "output format: cue or toml")
	cfgCmd.AddCommand(dump)

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, path, err := app.loadConfig(ctx)
	if err != nil {
		rendered, _ := issue.Get(issue.ConfigLoadFailedId).Render("dark")
		fmt.Fprint(app.stderr, rendered)
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	out := app.stdout

	fmt.Fprintln(out, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(out)
	if path != "" {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}

	section := func(name string, kv ...string) {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s:\n", keyStyle.Render(name))
		for i := 0; i+1 < len(kv); i += 2 {
			v := kv[i+1]
			if v == "" {
				v = SubtitleStyle.Render("(unset)")
			} else {
				v = valueStyle.Render(v)
			}
			fmt.Fprintf(out, "  %s: %s\n", kv[i], v)
		}
	}

	section("server",
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"url", cfg.Server.BaseURL(),
		"max_parallel_jobs", fmt.Sprint(cfg.Server.MaxParallelJobs),
		"shutdown_timeout", cfg.Server.ShutdownTimeout.String())
	section("data",
		"archive_root", cfg.Data.ArchiveRoot,
		"obs_root", cfg.Data.ObsRoot,
		"cache_file", cfg.Data.CacheFile,
		"levels", strings.Join(cfg.Data.Levels, "/"),
		"watch", fmt.Sprint(cfg.Data.Watch))
	section("esmvaltool",
		"runtime", string(cfg.ESMValTool.Runtime),
		"command", cfg.ESMValTool.Command,
		"image", cfg.ESMValTool.Image,
		"container_engine", string(cfg.ESMValTool.ContainerEngine),
		"output_file_type", cfg.ESMValTool.OutputFileType,
		"catalog_file", cfg.ESMValTool.CatalogFile)
	section("jobs",
		"workdir", cfg.Jobs.Workdir,
		"database", cfg.Jobs.Database)
	section("log",
		"level", cfg.Log.Level,
		"format", string(cfg.Log.Format))
	return nil
}

func initConfig(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	path, err := config.CreateDefaultConfig(cfgDir)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
