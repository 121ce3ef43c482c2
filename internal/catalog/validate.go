// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// validate collects the problems the schema cannot express.
func (c *Catalog) validate() error {
	var problems []string
	seen := make(map[string]bool, len(c.Entries))
	for i := range c.Entries {
		p := &c.Entries[i]
		if seen[p.Identifier] {
			problems = append(problems, fmt.Sprintf("duplicate process %q", p.Identifier))
			continue
		}
		seen[p.Identifier] = true
		for _, msg := range p.validate() {
			problems = append(problems, fmt.Sprintf("process %q: %s", p.Identifier, msg))
		}
	}
	if len(problems) > 0 {
		return &InvalidCatalogError{Problems: problems}
	}
	return nil
}

func (p *Process) validate() []string {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	inputIDs := make(map[string]bool)
	for _, in := range p.Inputs() {
		if inputIDs[in.Identifier] {
			addf("duplicate input %q", in.Identifier)
		}
		inputIDs[in.Identifier] = true
	}

	switch p.Kind {
	case KindDiagnostic:
		if p.Recipe == nil {
			addf("diagnostic processes need a recipe")
		}
	case KindSleep:
		if _, ok := p.Option(SleepDelayOption); !ok {
			addf("sleep processes need a %q option", SleepDelayOption)
		}
	case KindMeta:
		if _, ok := p.Option(MetaProcessOption); !ok {
			addf("meta processes need a %q option", MetaProcessOption)
		}
	}

	for _, g := range p.Datasets {
		if g.MaxOccurs < g.MinOccurs {
			addf("dataset group %q: max_occurs %d is below min_occurs %d", g.Name, g.MaxOccurs, g.MinOccurs)
		}
		if g.Years == YearsSpan && len(p.Years) == 0 {
			addf("dataset group %q: span needs at least one year range", g.Name)
		} else if g.Years != YearsSpan && (g.Years != "" || len(p.Years) > 0) {
			if _, ok := p.YearRange(g.Years); !ok {
				addf("dataset group %q: unknown year range %q", g.Name, g.Years)
			}
		}
		for _, axis := range []string{AxisModel, AxisExperiment, AxisEnsemble} {
			n := len(g.Defaults(axis))
			switch {
			case g.HasInput(axis) && n < g.MinOccurs:
				addf("dataset group %q: %s needs at least %d default(s)", g.Name, axis, g.MinOccurs)
			case !g.HasInput(axis) && n != 1:
				addf("dataset group %q: fixed %s needs exactly one value", g.Name, axis)
			}
		}
	}

	for _, y := range p.Years {
		if y.DefaultStart < y.Min || y.DefaultStart > y.Max {
			addf("year range %q: default start %d outside [%d, %d]", y.Name, y.DefaultStart, y.Min, y.Max)
		}
		if y.DefaultEnd < y.Min || y.DefaultEnd > y.Max {
			addf("year range %q: default end %d outside [%d, %d]", y.Name, y.DefaultEnd, y.Min, y.Max)
		}
		if y.DefaultStart > y.DefaultEnd {
			addf("year range %q: default start %d after default end %d", y.Name, y.DefaultStart, y.DefaultEnd)
		}
	}

	for _, o := range p.Options {
		if err := o.Check(o.Default); err != nil {
			addf("option %q: default %s", o.Identifier, err)
		}
		for k := range o.Map {
			if len(o.Allowed) > 0 && !slices.Contains(o.Allowed, k) {
				addf("option %q: mapped value %q is not allowed", o.Identifier, k)
			}
		}
	}

	if p.Recipe != nil && p.Recipe.Reference != nil {
		ref := p.Recipe.Reference
		switch {
		case ref.Option != "":
			if _, ok := p.Option(ref.Option); !ok {
				addf("reference option %q is not an input", ref.Option)
			}
		case ref.Dataset == "":
			addf("reference needs an option or a dataset")
		}
	}

	known := make(map[string]bool, len(inputIDs)+2)
	for id := range inputIDs {
		known[id] = true
	}
	known["diagnostic"] = true
	known["script"] = true

	outputIDs := make(map[string]bool)
	for _, o := range p.Outputs() {
		if outputIDs[o.Identifier] {
			addf("duplicate output %q", o.Identifier)
		}
		outputIDs[o.Identifier] = true
		for _, name := range append(Placeholders(o.Path), Placeholders(o.Pattern)...) {
			if !known[name] {
				addf("output %q: unknown placeholder {%s}", o.Identifier, name)
			}
		}
	}

	return problems
}
