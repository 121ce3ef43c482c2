// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	// SourceDataset inputs select a model, experiment or ensemble.
	SourceDataset InputSource = iota
	// SourceYear inputs bound the period of a dataset group.
	SourceYear
	// SourceOption inputs are diagnostic parameters.
	SourceOption
)

type (
	// InputSource tells where an input is declared.
	InputSource int

	// Input is the flattened WPS view of one process input.
	Input struct {
		Identifier string
		Title      string
		Abstract   string
		Type       LiteralType
		// Defaults holds one value per occurrence; most inputs have one.
		Defaults  []string
		Allowed   []string
		Min       *float64
		Max       *float64
		MinOccurs int
		MaxOccurs int

		Source InputSource
		// Index points into Datasets, Years or Options depending on Source.
		Index int
		// Axis is set for dataset inputs.
		Axis string
		// Filter is set for dataset inputs whose allowed values come from
		// the DataFinder.
		Filter bool
	}
)

// Default returns the first default value, or "".
func (in Input) Default() string {
	if len(in.Defaults) == 0 {
		return ""
	}
	return in.Defaults[0]
}

// Inputs lists the process inputs in declaration order: dataset axes, then
// years, then options.
func (p *Process) Inputs() []Input {
	var out []Input
	for gi, g := range p.Datasets {
		for _, axis := range g.Inputs {
			defaults := g.Defaults(axis)
			title := axisTitles[axis]
			if g.Name != "" {
				title += " " + g.Name
			}
			article := "a"
			if axis != AxisModel {
				article = "an"
			}
			abstract := fmt.Sprintf("Choose %s %s.", article, axis)
			if len(defaults) > 0 {
				abstract = fmt.Sprintf("Choose %s %s like %s.", article, axis, defaults[0])
			}
			out = append(out, Input{
				Identifier: g.InputID(axis),
				Title:      title,
				Abstract:   abstract,
				Type:       TypeString,
				Defaults:   slices.Clone(defaults),
				MinOccurs:  g.MinOccurs,
				MaxOccurs:  g.MaxOccurs,
				Source:     SourceDataset,
				Index:      gi,
				Axis:       axis,
				Filter:     g.Filter,
			})
		}
	}

	for yi, y := range p.Years {
		lo, hi := float64(y.Min), float64(y.Max)
		suffix := ""
		if y.Name != "" {
			suffix = " " + y.Name
		}
		out = append(out,
			Input{
				Identifier: y.StartID(),
				Title:      fmt.Sprintf("Start year%s (%d)", suffix, y.Min),
				Abstract:   "Start year of model data.",
				Type:       TypeInteger,
				Defaults:   []string{strconv.Itoa(y.DefaultStart)},
				Min:        &lo,
				Max:        &hi,
				MinOccurs:  1,
				MaxOccurs:  1,
				Source:     SourceYear,
				Index:      yi,
			},
			Input{
				Identifier: y.EndID(),
				Title:      fmt.Sprintf("End year%s (till %d)", suffix, y.Max),
				Abstract:   "End year of model data.",
				Type:       TypeInteger,
				Defaults:   []string{strconv.Itoa(y.DefaultEnd)},
				Min:        &lo,
				Max:        &hi,
				MinOccurs:  1,
				MaxOccurs:  1,
				Source:     SourceYear,
				Index:      yi,
			},
		)
	}

	for oi, o := range p.Options {
		out = append(out, Input{
			Identifier: o.Identifier,
			Title:      o.Title,
			Abstract:   o.Abstract,
			Type:       o.Type,
			Defaults:   []string{o.Default},
			Allowed:    slices.Clone(o.Allowed),
			Min:        o.Min,
			Max:        o.Max,
			MinOccurs:  1,
			MaxOccurs:  1,
			Source:     SourceOption,
			Index:      oi,
		})
	}
	return out
}

// Input returns the input with the given identifier.
func (p *Process) Input(id string) (Input, bool) {
	for _, in := range p.Inputs() {
		if in.Identifier == id {
			return in, true
		}
	}
	return Input{}, false
}

// Outputs returns the declared outputs followed by the built-in outputs of
// diagnostic processes.
func (p *Process) Outputs() []Output {
	out := slices.Clone(p.Declared)
	if p.Kind != KindDiagnostic {
		return out
	}
	out = append(out,
		Output{
			Identifier: OutputSuccess,
			Title:      "Success",
			Abstract:   "True if the metric has been successfully calculated. If false please check the log files",
			Kind:       OutputLiteral,
			Format:     string(TypeString),
		},
		Output{
			Identifier: OutputRecipe,
			Title:      "Recipe",
			Abstract:   "ESMValTool recipe used for processing.",
			Kind:       OutputReference,
			Format:     "yml",
		},
		Output{
			Identifier: OutputLog,
			Title:      "Log File",
			Abstract:   "Log File of ESMValTool processing.",
			Kind:       OutputReference,
			Format:     "txt",
		},
		Output{
			Identifier: OutputDebugLog,
			Title:      "ESMValTool Debug File",
			Abstract:   "Debug Log File of ESMValTool processing.",
			Kind:       OutputReference,
			Format:     "txt",
		},
	)
	if p.Archive {
		out = append(out, Output{
			Identifier: OutputArchive,
			Title:      "Archive",
			Abstract:   "The complete output of the ESMValTool processing as an zip archive.",
			Kind:       OutputReference,
			Format:     "zip",
		})
	}
	return out
}

// Complex reports whether the output is complex data: every reference and
// literal outputs with a file format such as json.
func (o Output) Complex() bool {
	return o.Kind == OutputReference || (o.Format != "" && o.Format != string(TypeString))
}

// MimeType returns the MIME type of the output format.
func (o Output) MimeType() string {
	return MimeType(o.Format)
}

// ScriptDir returns the default output path below the plot or work dir.
func (p *Process) ScriptDir() string {
	if p.Recipe == nil {
		return ""
	}
	return p.Recipe.Diagnostic + "/" + p.Recipe.Script
}

// Option returns the option with the given identifier.
func (p *Process) Option(id string) (Option, bool) {
	for _, o := range p.Options {
		if o.Identifier == id {
			return o, true
		}
	}
	return Option{}, false
}

// YearRange returns the named year range.
func (p *Process) YearRange(name string) (YearRange, bool) {
	for _, y := range p.Years {
		if y.Name == name {
			return y, true
		}
	}
	return YearRange{}, false
}

// Documentation returns the href of the first link titled "Documentation".
func (p *Process) Documentation() string {
	for _, l := range p.Metadata {
		if strings.EqualFold(l.Title, "Documentation") {
			return l.Href
		}
	}
	return ""
}
