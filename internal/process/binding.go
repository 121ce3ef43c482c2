// SPDX-License-Identifier: MPL-2.0

package process

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/datafinder"

	"golang.org/x/exp/slices"
)

var (
	// ErrMissingInput is returned when a required input has no value.
	ErrMissingInput = errors.New("missing input")
	// ErrInvalidInput is returned for values the process does not accept.
	ErrInvalidInput = errors.New("invalid input")
)

type (
	// DataSource answers data availability queries. *datafinder.Finder
	// implements it.
	DataSource interface {
		Empty() bool
		ModelExperimentEnsemble(vars []string, freq string) datafinder.Facets
		PrunedTree(vars []string, freq string) *datafinder.Node
	}

	// InputError reports a rejected input. Locator names the input.
	InputError struct {
		Locator string
		Reason  string
		// missing selects ErrMissingInput over ErrInvalidInput.
		missing bool
	}

	// Binder validates raw inputs. A nil Data disables data checks.
	Binder struct {
		Data DataSource
	}

	// facetCache computes the facets of one process at most once.
	facetCache struct {
		data   DataSource
		p      *catalog.Process
		done   bool
		facets datafinder.Facets
	}
)

func (e *InputError) Error() string {
	return fmt.Sprintf("input %s: %s", e.Locator, e.Reason)
}

// Unwrap returns ErrMissingInput or ErrInvalidInput.
func (e *InputError) Unwrap() error {
	if e.missing {
		return ErrMissingInput
	}
	return ErrInvalidInput
}

func invalid(locator, format string, args ...any) *InputError {
	return &InputError{Locator: locator, Reason: fmt.Sprintf(format, args...)}
}

// Bind validates raw against the inputs of p and returns the values with
// defaults applied for every input.
func (b Binder) Bind(p *catalog.Process, raw map[string][]string) (map[string][]string, error) {
	inputs := p.Inputs()
	known := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		known[in.Identifier] = true
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if !known[id] {
			return nil, invalid(id, "process %s has no such input", p.Identifier)
		}
	}

	facets := &facetCache{data: b.Data, p: p}
	values := make(map[string][]string, len(inputs))
	for _, in := range inputs {
		vs := raw[in.Identifier]
		if len(vs) == 0 {
			switch {
			case len(in.Defaults) > 0 && in.Source == catalog.SourceDataset:
				vs = in.Defaults
			case len(in.Defaults) > 0:
				vs = in.Defaults[:1]
			case in.MinOccurs > 0:
				return nil, &InputError{Locator: in.Identifier, Reason: "a value is required", missing: true}
			default:
				continue
			}
		}
		if in.MaxOccurs > 0 && len(vs) > in.MaxOccurs {
			return nil, invalid(in.Identifier, "at most %d values allowed, got %d", in.MaxOccurs, len(vs))
		}
		if len(vs) < in.MinOccurs {
			return nil, invalid(in.Identifier, "at least %d values required, got %d", in.MinOccurs, len(vs))
		}
		for _, v := range vs {
			if err := b.check(p, in, v, facets); err != nil {
				return nil, err
			}
		}
		values[in.Identifier] = slices.Clone(vs)
	}

	if err := checkYears(p, values); err != nil {
		return nil, err
	}
	if err := checkTriples(p, values, facets); err != nil {
		return nil, err
	}
	return values, nil
}

func (b Binder) check(p *catalog.Process, in catalog.Input, v string, facets *facetCache) error {
	switch in.Source {
	case catalog.SourceDataset:
		if allowed := allowedDataset(p, in, facets); !slices.Contains(allowed, v) {
			return invalid(in.Identifier, "%q is not available", v)
		}
	case catalog.SourceYear:
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid(in.Identifier, "%q is not a valid integer", v)
		}
		if in.Min != nil && float64(n) < *in.Min {
			return invalid(in.Identifier, "%d is before %.0f", n, *in.Min)
		}
		if in.Max != nil && float64(n) > *in.Max {
			return invalid(in.Identifier, "%d is after %.0f", n, *in.Max)
		}
	case catalog.SourceOption:
		if err := p.Options[in.Index].Check(v); err != nil {
			return invalid(in.Identifier, "%v", err)
		}
	}
	return nil
}

// Allowed returns the values offered for in. Dataset inputs of filtering
// groups offer what the archive holds for the process, or the declared
// defaults when the archive is empty. Other dataset inputs offer their
// defaults. A nil result means any value; an empty non-nil result means
// none is accepted.
func (b Binder) Allowed(p *catalog.Process, in catalog.Input) []string {
	if in.Source != catalog.SourceDataset {
		if len(in.Allowed) == 0 {
			return nil
		}
		return in.Allowed
	}
	return allowedDataset(p, in, &facetCache{data: b.Data, p: p})
}

func allowedDataset(p *catalog.Process, in catalog.Input, facets *facetCache) []string {
	g := p.Datasets[in.Index]
	defaults := g.Defaults(in.Axis)
	if !g.Filter {
		return defaults
	}
	f, ok := facets.get()
	if !ok {
		return defaults
	}
	var values []string
	switch in.Axis {
	case catalog.AxisModel:
		values = f.Models
	case catalog.AxisExperiment:
		values = f.Experiments
	case catalog.AxisEnsemble:
		values = f.Ensembles
	default:
		return defaults
	}
	if values == nil {
		// Restricted, but nothing in the archive qualifies.
		return []string{}
	}
	return values
}

// get returns the facets, or false when the archive has no data.
func (c *facetCache) get() (datafinder.Facets, bool) {
	if c.data == nil || c.data.Empty() {
		return datafinder.Facets{}, false
	}
	if !c.done {
		c.facets = c.data.ModelExperimentEnsemble(c.p.Variables, c.p.Frequency)
		c.done = true
	}
	return c.facets, true
}

func checkYears(p *catalog.Process, values map[string][]string) error {
	for _, y := range p.Years {
		start, err1 := strconv.Atoi(values[y.StartID()][0])
		end, err2 := strconv.Atoi(values[y.EndID()][0])
		if err1 != nil || err2 != nil {
			continue
		}
		if start > end {
			return invalid(y.EndID(), "end year %d is before start year %d", end, start)
		}
	}
	return nil
}

// checkTriples requires every submitted model/experiment/ensemble combination
// of a filtering group to exist in the archive.
func checkTriples(p *catalog.Process, values map[string][]string, facets *facetCache) error {
	for _, g := range p.Datasets {
		if !g.Filter || len(g.Inputs) == 0 {
			continue
		}
		f, ok := facets.get()
		if !ok {
			return nil
		}
		for _, t := range groupTriples(g, values) {
			if !f.Contains(t) {
				return invalid(g.InputID(catalog.AxisModel),
					"no data for model %s, experiment %s, ensemble %s", t.Model, t.Experiment, t.Ensemble)
			}
		}
	}
	return nil
}

// groupTriples zips the axes of g by position. Shorter axes repeat their
// last value.
func groupTriples(g catalog.DatasetGroup, values map[string][]string) []datafinder.Triple {
	axis := func(name string) []string {
		if g.HasInput(name) {
			if vs := values[g.InputID(name)]; len(vs) > 0 {
				return vs
			}
		}
		return g.Defaults(name)
	}
	models, exps, ens := axis(catalog.AxisModel), axis(catalog.AxisExperiment), axis(catalog.AxisEnsemble)

	at := func(vs []string, i int) string {
		switch {
		case len(vs) == 0:
			return ""
		case i >= len(vs):
			return vs[len(vs)-1]
		default:
			return vs[i]
		}
	}
	n := max(len(models), len(exps), len(ens))
	out := make([]datafinder.Triple, 0, n)
	for i := range n {
		out = append(out, datafinder.Triple{Model: at(models, i), Experiment: at(exps, i), Ensemble: at(ens, i)})
	}
	return out
}
