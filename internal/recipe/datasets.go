// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"github.com/c3s-magic/magicwps/internal/catalog"
)

const historical = "historical"

type (
	// Dataset is one entry of the recipe datasets list.
	Dataset struct {
		Dataset   string  `yaml:"dataset"`
		Project   string  `yaml:"project"`
		Exp       expList `yaml:"exp,omitempty"`
		Ensemble  string  `yaml:"ensemble,omitempty"`
		Mip       string  `yaml:"mip,omitempty"`
		Type      string  `yaml:"type,omitempty"`
		Version   string  `yaml:"version,omitempty"`
		Tier      int     `yaml:"tier,omitempty"`
		StartYear int     `yaml:"start_year,omitempty"`
		EndYear   int     `yaml:"end_year,omitempty"`
	}

	// expList renders a single experiment as a scalar and several as a list.
	expList []string
)

// MarshalYAML implements yaml.Marshaler.
func (e expList) MarshalYAML() (any, error) {
	if len(e) == 1 {
		return e[0], nil
	}
	return []string(e), nil
}

// Datasets expands the dataset groups of p into recipe datasets. The n-th
// model, experiment and ensemble values form one dataset; shorter axes repeat
// their last value.
func Datasets(p *catalog.Process, values map[string][]string) ([]Dataset, error) {
	var out []Dataset
	for _, g := range p.Datasets {
		models := axisValues(g, catalog.AxisModel, values)
		exps := axisValues(g, catalog.AxisExperiment, values)
		ensembles := axisValues(g, catalog.AxisEnsemble, values)

		start, end, err := groupYears(p, g, values)
		if err != nil {
			return nil, err
		}

		n := max(len(models), len(exps), len(ensembles))
		for i := range n {
			exp := expList{at(exps, i)}
			if g.Years == catalog.YearsSpan && exp[0] != historical {
				exp = expList{historical, exp[0]}
			}
			out = append(out, Dataset{
				Dataset:   at(models, i),
				Project:   "CMIP5",
				Exp:       exp,
				Ensemble:  at(ensembles, i),
				StartYear: start,
				EndYear:   end,
			})
		}
	}
	return out, nil
}

func axisValues(g catalog.DatasetGroup, axis string, values map[string][]string) []string {
	if g.HasInput(axis) {
		if vs := values[g.InputID(axis)]; len(vs) > 0 {
			return vs
		}
	}
	return g.Defaults(axis)
}

func at(vs []string, i int) string {
	if len(vs) == 0 {
		return ""
	}
	if i >= len(vs) {
		return vs[len(vs)-1]
	}
	return vs[i]
}

// groupYears returns the period of a group. Span groups cover every range of
// the process; groups of processes without ranges have no period.
func groupYears(p *catalog.Process, g catalog.DatasetGroup, values map[string][]string) (start, end int, err error) {
	if g.Years != catalog.YearsSpan {
		y, ok := p.YearRange(g.Years)
		if !ok {
			return 0, 0, nil
		}
		return yearValues(y, values)
	}
	for i, y := range p.Years {
		s, e, err := yearValues(y, values)
		if err != nil {
			return 0, 0, err
		}
		if i == 0 || s < start {
			start = s
		}
		if i == 0 || e > end {
			end = e
		}
	}
	return start, end, nil
}

func staticDataset(s catalog.StaticDataset) Dataset {
	project := s.Project
	if project == "" {
		project = "CMIP5"
	}
	d := Dataset{
		Dataset:   s.Dataset,
		Project:   project,
		Ensemble:  s.Ensemble,
		Mip:       s.Mip,
		Type:      s.Type,
		Version:   s.Version,
		Tier:      s.Tier,
		StartYear: s.StartYear,
		EndYear:   s.EndYear,
	}
	if s.Exp != "" {
		d.Exp = expList{s.Exp}
	}
	return d
}

// reference builds the observational dataset of p. Its period spans the
// model datasets. A null or empty selection yields no reference; an
// unsubmitted selection takes the option default.
func reference(p *catalog.Process, values map[string][]string, datasets []Dataset) *Dataset {
	ref := p.Recipe.Reference
	if ref == nil {
		return nil
	}
	name := ref.Dataset
	if ref.Option != "" {
		if o, ok := p.Option(ref.Option); ok && o.Default != "" {
			name = o.Default
		}
		name = first(values, ref.Option, name)
	}
	if name == "" || name == catalog.NullValue {
		return nil
	}

	d := Dataset{
		Dataset: name,
		Project: ref.Project,
		Type:    ref.Type,
		Version: ref.Version,
		Tier:    ref.Tier,
	}
	for i, ds := range datasets {
		if ds.StartYear == 0 {
			continue
		}
		if i == 0 || d.StartYear == 0 || ds.StartYear < d.StartYear {
			d.StartYear = ds.StartYear
		}
		if ds.EndYear > d.EndYear {
			d.EndYear = ds.EndYear
		}
	}
	return &d
}
