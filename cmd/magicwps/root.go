// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/datafinder"
	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/internal/logging"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App wires CLI services and shared state. Every command handler
	// receives the App instead of reaching for globals.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer

		// Global flag values.
		configPath string
		verbose    bool
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}
)

// NewApp builds an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// NewRootCommand creates the magicwps command tree.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "magicwps",
		Short: "WPS front-end for ESMValTool climate diagnostics",
		Long: TitleStyle.Render("magicwps") + SubtitleStyle.Render(" - WPS front-end for ESMValTool climate diagnostics") + `

magicwps serves a catalog of climate diagnostics over the OGC Web Processing
Service protocol. Each process builds an ESMValTool recipe from the request,
runs the toolkit natively, in the embedded shell or in a container, and
publishes the plots, data and logs it produces.

` + SubtitleStyle.Render("Examples:") + `
  magicwps serve                       Start the WPS on localhost:5000
  magicwps processes list              List the available processes
  magicwps data facets --variable tas  Show the models providing tas
  magicwps execute sleep               Submit a canary request`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/magicwps/config.cue)")

	rootCmd.AddCommand(
		newServeCommand(app),
		newExecuteCommand(app),
		newProcessesCommand(app),
		newDataCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return rootCmd
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.verbose))
		}),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors render their operation and suggestions; verbose mode
// adds the full error chain and the linked guide page.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		return err.Error()
	}
	msg := ae.Format(verboseMode)
	if verboseMode {
		if guide := ae.Guide("dark"); guide != "" {
			msg += "\n" + guide
		}
	}
	return msg
}

func (a *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	return a.Config.LoadWithPath(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// setup loads the configuration and installs the logger it describes.
func (a *App) setup(ctx context.Context) (*config.Config, *log.Logger, error) {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Log
	if a.verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.Setup(a.stderr, logCfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.ESMValTool.CatalogFile != "" {
		return catalog.LoadFile(cfg.ESMValTool.CatalogFile)
	}
	return catalog.Load()
}

func finderOptions(cfg *config.Config) datafinder.Options {
	return datafinder.Options{
		ArchiveRoot: cfg.Data.ArchiveRoot,
		Levels:      datafinder.Levels(cfg.Data.Levels),
		CacheFile:   cfg.Data.CacheFile,
		Logger:      logging.For("datafinder"),
	}
}

func processNotFound(id string) error {
	return issue.NewErrorContext().
		WithOperation("look up process").
		WithResource(id).
		WithSuggestion("Run 'magicwps processes list' to see the available processes").
		WithIssue(issue.ProcessNotFoundId).
		Wrap(fmt.Errorf("unknown process %q", id)).
		BuildError()
}
