// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/datafinder"
	"github.com/c3s-magic/magicwps/internal/process"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

const describeWrap = 100

func newProcessesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "processes",
		Aliases: []string{"process"},
		Short:   "Inspect the process catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the available processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := app.setup(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, TitleStyle.Render("Processes"))
			fmt.Fprintln(app.stdout)
			for _, p := range cat.Processes() {
				fmt.Fprintf(app.stdout, "%s %s %s\n",
					idColumnStyle.Render(p.Identifier),
					p.Title,
					SubtitleStyle.Render("("+string(p.Kind)+")"))
			}
			return nil
		},
	})

	var plain bool
	describe := &cobra.Command{
		Use:   "describe <process>",
		Short: "Describe the inputs and outputs of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.setup(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			p, ok := cat.Get(args[0])
			if !ok {
				return processNotFound(args[0])
			}
			binder := process.Binder{Data: loadFinderQuietly(cmd.Context(), app, cfg.Data.ArchiveRoot, finderOptions(cfg))}
			md := describeMarkdown(p, binder)
			if plain {
				fmt.Fprint(app.stdout, md)
				return nil
			}
			renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(describeWrap))
			if err != nil {
				return fmt.Errorf("failed to create markdown renderer: %w", err)
			}
			out, err := renderer.Render(md)
			if err != nil {
				return fmt.Errorf("failed to render markdown: %w", err)
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}
	describe.Flags().BoolVar(&plain, "plain", false, "print the markdown source")
	cmd.AddCommand(describe)
	return cmd
}

// loadFinderQuietly returns the cached or scanned archive, or nil when none
// is configured or it cannot be read; descriptions then list defaults.
func loadFinderQuietly(ctx context.Context, app *App, root string, opts datafinder.Options) process.DataSource {
	if root == "" {
		return nil
	}
	f, err := datafinder.New(ctx, opts)
	if err != nil {
		fmt.Fprintln(app.stderr, WarningStyle.Render("Warning: ")+"data archive unavailable: "+err.Error())
		return nil
	}
	return f
}

func describeMarkdown(p *catalog.Process, binder process.Binder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "`%s`", p.Identifier)
	if p.Version != "" {
		fmt.Fprintf(&b, " version %s", p.Version)
	}
	if p.EstimatedTime != "" {
		fmt.Fprintf(&b, ", estimated time %s", p.EstimatedTime)
	}
	b.WriteString("\n\n")
	if p.Abstract != "" {
		b.WriteString(p.Abstract + "\n\n")
	}
	if len(p.Variables) > 0 {
		fmt.Fprintf(&b, "Requires variables %s at frequency `%s`.\n\n", codeList(p.Variables), p.Frequency)
	}

	if inputs := p.Inputs(); len(inputs) > 0 {
		b.WriteString("## Inputs\n\n| Identifier | Type | Occurs | Default | Allowed |\n|---|---|---|---|---|\n")
		for _, in := range inputs {
			fmt.Fprintf(&b, "| `%s` | %s | %d..%d | %s | %s |\n",
				in.Identifier, inputType(in), in.MinOccurs, in.MaxOccurs,
				strings.Join(in.Defaults, ", "), allowedText(in, binder.Allowed(p, in)))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Outputs\n\n| Identifier | Title | Format |\n|---|---|---|\n")
	for _, o := range p.Outputs() {
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", o.Identifier, o.Title, o.MimeType())
	}

	if len(p.Metadata) > 0 {
		b.WriteString("\n## Links\n\n")
		for _, l := range p.Metadata {
			if l.Href != "" {
				fmt.Fprintf(&b, "- [%s](%s)\n", l.Title, l.Href)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", l.Title, l.Text)
			}
		}
	}
	return b.String()
}

func inputType(in catalog.Input) string {
	if in.Type == "" {
		return string(catalog.TypeString)
	}
	return string(in.Type)
}

func allowedText(in catalog.Input, allowed []string) string {
	switch {
	case len(allowed) > 0:
		return strings.Join(allowed, ", ")
	case allowed != nil:
		return "none in the archive"
	case in.Min != nil && in.Max != nil:
		return fmt.Sprintf("%g to %g", *in.Min, *in.Max)
	case in.Min != nil:
		return fmt.Sprintf("from %g", *in.Min)
	case in.Max != nil:
		return fmt.Sprintf("up to %g", *in.Max)
	default:
		return "any"
	}
}

func codeList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "`" + s + "`"
	}
	return strings.Join(quoted, ", ")
}
