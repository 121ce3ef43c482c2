// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/datafinder"
	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/internal/jobstore"
	"github.com/c3s-magic/magicwps/internal/logging"
	"github.com/c3s-magic/magicwps/internal/process"
	"github.com/c3s-magic/magicwps/internal/recipe"
	"github.com/c3s-magic/magicwps/internal/runner"
	"github.com/c3s-magic/magicwps/internal/wps"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	host string
	port int
}

func newServeCommand(app *App) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WPS server",
		Long: `Start the WPS server.

The server scans the data archive (or loads the cache), then answers WPS
requests until interrupted. Running jobs get server.shutdown_timeout to
finish before they are cancelled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := app.setup(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = flags.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = flags.port
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&flags.host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	finder, err := datafinder.Shared(ctx, finderOptions(cfg))
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("scan data archive").
			WithResource(cfg.Data.ArchiveRoot).
			WithSuggestion("Check data.archive_root in the configuration").
			WithSuggestion("Leave data.archive_root empty to serve without data").
			WithIssue(issue.ArchiveRootNotFoundId).
			Wrap(err).
			BuildError()
	}
	if finder.Empty() {
		logger.Warn("no model data available; dataset inputs offer catalog defaults")
	}

	registry := runner.NewRegistry(runner.OptionsFromConfig(cfg))
	rt, err := registry.Resolve(cfg.ESMValTool.Runtime)
	if err != nil {
		// sleep and meta still work without the toolkit.
		logger.Warn("diagnostics are unavailable", "error", formatErrorForDisplay(err, false))
	}

	store, err := jobstore.Open(cfg.Jobs.Database)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	exec := &process.Executor{
		Catalog: cat,
		Data:    finder,
		Runtime: rt,
		Recipe: recipe.Options{
			ArchiveRoot:      cfg.Data.ArchiveRoot,
			ObsRoot:          cfg.Data.ObsRoot,
			OutputFileType:   cfg.ESMValTool.OutputFileType,
			LogLevel:         cfg.ESMValTool.LogLevel,
			MaxParallelTasks: cfg.ESMValTool.MaxParallelTask,
		},
		Logger: logging.For("process"),
	}
	srv, err := wps.New(wps.Options{
		Server:   cfg.Server,
		Workdir:  cfg.Jobs.Workdir,
		Catalog:  cat,
		Data:     finder,
		Executor: exec,
		Store:    store,
		Logger:   logging.For("wps"),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Wait(gctx)
	})
	if cfg.Data.Watch && cfg.Data.ArchiveRoot != "" {
		g.Go(func() error {
			return finder.Watch(gctx, datafinder.WatchOptions{
				Debounce: cfg.Data.WatchDebounce,
				Ignore:   cfg.Data.WatchIgnore,
				OnRefresh: func(_ context.Context, changed []string) {
					logger.Info("data archive rescanned", "changed", len(changed))
				},
			})
		})
	}
	return g.Wait()
}
