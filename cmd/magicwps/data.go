// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/datafinder"
	"github.com/c3s-magic/magicwps/internal/issue"

	"github.com/spf13/cobra"
)

type facetFlags struct {
	variables []string
	frequency string
	process   string
	json      bool
}

func newDataCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect the model data archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Rescan the archive and refresh the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := openFinder(cmd.Context(), app)
			if err != nil {
				return err
			}
			if err := f.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s scanned %s: %d directories at %s\n",
				SuccessStyle.Render("✓"), f.ArchiveRoot(), f.Tree().Count()-1, f.ScannedAt().Format("2006-01-02 15:04:05"))
			return nil
		},
	})

	var ff facetFlags
	facets := &cobra.Command{
		Use:   "facets",
		Short: "List the model/experiment/ensemble combinations providing variables",
		Example: `  magicwps data facets --variable tas --variable pr --frequency mon
  magicwps data facets --process perfmetrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := openFinder(cmd.Context(), app)
			if err != nil {
				return err
			}
			if ff.process != "" {
				cfg, _, err := app.loadConfig(cmd.Context())
				if err != nil {
					return err
				}
				cat, err := loadCatalog(cfg)
				if err != nil {
					return err
				}
				p, ok := cat.Get(ff.process)
				if !ok {
					return processNotFound(ff.process)
				}
				ff.variables, ff.frequency = p.Variables, p.Frequency
			}
			if len(ff.variables) == 0 {
				return errors.New("at least one --variable or a --process is required")
			}
			if ff.json {
				return datafinder.WriteJSON(app.stdout, f.PrunedTree(ff.variables, ff.frequency))
			}
			printFacets(app, f.ModelExperimentEnsemble(ff.variables, ff.frequency))
			return nil
		},
	}
	facets.Flags().StringSliceVar(&ff.variables, "variable", nil, "required variables")
	facets.Flags().StringVar(&ff.frequency, "frequency", "", "required frequency (empty matches any)")
	facets.Flags().StringVar(&ff.process, "process", "", "take variables and frequency from a process")
	facets.Flags().BoolVar(&ff.json, "json", false, "print the pruned tree as JSON")
	cmd.AddCommand(facets)

	var tf facetFlags
	tree := &cobra.Command{
		Use:   "tree",
		Short: "Print the archive tree as JSON, pruned when variables are given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := openFinder(cmd.Context(), app)
			if err != nil {
				return err
			}
			if len(tf.variables) == 0 && tf.frequency == "" {
				return datafinder.WriteJSON(app.stdout, f.Tree())
			}
			return datafinder.WriteJSON(app.stdout, f.PrunedTree(tf.variables, tf.frequency))
		},
	}
	tree.Flags().StringSliceVar(&tf.variables, "variable", nil, "required variables")
	tree.Flags().StringVar(&tf.frequency, "frequency", "", "required frequency")
	cmd.AddCommand(tree)
	return cmd
}

func openFinder(ctx context.Context, app *App) (*datafinder.Finder, error) {
	cfg, _, err := app.setup(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Data.ArchiveRoot == "" {
		return nil, archiveRootMissing(cfg)
	}
	return datafinder.New(ctx, finderOptions(cfg))
}

func archiveRootMissing(cfg *config.Config) error {
	return issue.NewErrorContext().
		WithOperation("open data archive").
		WithResource(strings.Join(cfg.Data.Levels, "/")).
		WithSuggestion("Set data.archive_root in the configuration or MAGICWPS_DATA_ARCHIVE_ROOT").
		WithIssue(issue.ArchiveRootNotFoundId).
		Wrap(errors.New("no archive root configured")).
		BuildError()
}

func printFacets(app *App, res datafinder.Facets) {
	out := app.stdout
	if res.Empty() {
		fmt.Fprintln(out, WarningStyle.Render("No model provides the requested data"))
		return
	}
	fmt.Fprintln(out, TitleStyle.Render(fmt.Sprintf("%d combinations", len(res.Triples))))
	fmt.Fprintln(out)
	for _, t := range res.Triples {
		fmt.Fprintf(out, "%s %s %s\n", idColumnStyle.Render(t.Model), t.Experiment, t.Ensemble)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %s\n", CmdStyle.Render("models:"), strings.Join(res.Models, ", "))
	fmt.Fprintf(out, "%s %s\n", CmdStyle.Render("experiments:"), strings.Join(res.Experiments, ", "))
	fmt.Fprintf(out, "%s %s\n", CmdStyle.Render("ensembles:"), strings.Join(res.Ensembles, ", "))
}
