// SPDX-License-Identifier: MPL-2.0

package process

import (
	"errors"
	"testing"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/datafinder"

	"github.com/google/go-cmp/cmp"
)

type fakeData struct {
	facets datafinder.Facets
	tree   *datafinder.Node
	// populated reports data even when no triple qualifies.
	populated bool
}

func (d *fakeData) Empty() bool { return !d.populated && d.facets.Empty() }

func (d *fakeData) ModelExperimentEnsemble([]string, string) datafinder.Facets { return d.facets }

func (d *fakeData) PrunedTree([]string, string) *datafinder.Node { return d.tree }

func archiveData() *fakeData {
	return &fakeData{facets: datafinder.Facets{
		Triples: []datafinder.Triple{
			{Model: "CanESM2", Experiment: "historical", Ensemble: "r1i1p1"},
			{Model: "MPI-ESM-LR", Experiment: "historical", Ensemble: "r1i1p1"},
			{Model: "MPI-ESM-LR", Experiment: "rcp85", Ensemble: "r1i1p1"},
		},
		Models:      []string{"CanESM2", "MPI-ESM-LR"},
		Experiments: []string{"historical", "rcp85"},
		Ensembles:   []string{"r1i1p1"},
	}}
}

func ptr(f float64) *float64 { return &f }

func bindProcess() *catalog.Process {
	return &catalog.Process{
		Identifier: "demo",
		Kind:       catalog.KindDiagnostic,
		Variables:  []string{"tas"},
		Frequency:  "mon",
		Datasets: []catalog.DatasetGroup{
			{
				Inputs:      []string{catalog.AxisModel, catalog.AxisExperiment, catalog.AxisEnsemble},
				Models:      []string{"MPI-ESM-LR"},
				Experiments: []string{"historical"},
				Ensembles:   []string{"r1i1p1"},
				MinOccurs:   1,
				MaxOccurs:   1,
				Filter:      true,
			},
			{
				Name:        "obs",
				Inputs:      []string{catalog.AxisModel},
				Models:      []string{"ERA-Interim", "NCEP"},
				Experiments: []string{"reanalysis"},
				Ensembles:   []string{"r1"},
				MinOccurs:   1,
				MaxOccurs:   2,
			},
		},
		Years: []catalog.YearRange{{Min: 1850, Max: 2005, DefaultStart: 1971, DefaultEnd: 2000}},
		Options: []catalog.Option{
			{Identifier: "season", Type: catalog.TypeString, Default: "DJF", Allowed: []string{"DJF", "JJA"}},
			{Identifier: "threshold", Type: catalog.TypeFloat, Default: "0.5", Min: ptr(0)},
		},
	}
}

func TestBind_Defaults(t *testing.T) {
	t.Parallel()

	got, err := Binder{}.Bind(bindProcess(), nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	want := map[string][]string{
		"model":      {"MPI-ESM-LR"},
		"experiment": {"historical"},
		"ensemble":   {"r1i1p1"},
		"model_obs":  {"ERA-Interim", "NCEP"},
		"start_year": {"1971"},
		"end_year":   {"2000"},
		"season":     {"DJF"},
		"threshold":  {"0.5"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Bind() mismatch (-want +got):\n%s", diff)
	}
}

func TestBind_Submitted(t *testing.T) {
	t.Parallel()

	raw := map[string][]string{
		"model":      {"MPI-ESM-LR"},
		"experiment": {"rcp85"},
		"model_obs":  {"NCEP"},
		"start_year": {"1990"},
		"season":     {"JJA"},
	}
	got, err := Binder{Data: archiveData()}.Bind(bindProcess(), raw)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	for id, want := range raw {
		if diff := cmp.Diff(want, got[id]); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", id, diff)
		}
	}
	if diff := cmp.Diff([]string{"2000"}, got["end_year"]); diff != "" {
		t.Errorf("end_year default mismatch (-want +got):\n%s", diff)
	}
}

func TestBind_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    DataSource
		raw     map[string][]string
		locator string
	}{
		{name: "unknown input", raw: map[string][]string{"colour": {"red"}}, locator: "colour"},
		{name: "too many values", raw: map[string][]string{"model": {"MPI-ESM-LR", "MPI-ESM-LR"}}, locator: "model"},
		{name: "too many group values", raw: map[string][]string{"model_obs": {"NCEP", "NCEP", "NCEP"}}, locator: "model_obs"},
		{name: "fixed group value", raw: map[string][]string{"model_obs": {"JRA-55"}}, locator: "model_obs"},
		{name: "model not in archive", data: archiveData(), raw: map[string][]string{"model": {"GFDL-ESM2G"}}, locator: "model"},
		{name: "model outside defaults without data", raw: map[string][]string{"model": {"CanESM2"}}, locator: "model"},
		{
			name:    "combination not in archive",
			data:    archiveData(),
			raw:     map[string][]string{"model": {"CanESM2"}, "experiment": {"rcp85"}},
			locator: "model",
		},
		{name: "year not a number", raw: map[string][]string{"start_year": {"soon"}}, locator: "start_year"},
		{name: "year below range", raw: map[string][]string{"start_year": {"1700"}}, locator: "start_year"},
		{name: "year above range", raw: map[string][]string{"end_year": {"2100"}}, locator: "end_year"},
		{name: "end before start", raw: map[string][]string{"start_year": {"1990"}, "end_year": {"1980"}}, locator: "end_year"},
		{name: "option not allowed", raw: map[string][]string{"season": {"MAM"}}, locator: "season"},
		{name: "option below minimum", raw: map[string][]string{"threshold": {"-1"}}, locator: "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Binder{Data: tt.data}.Bind(bindProcess(), tt.raw)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Bind() error = %v, want ErrInvalidInput", err)
			}
			var ie *InputError
			if !errors.As(err, &ie) || ie.Locator != tt.locator {
				t.Errorf("Bind() locator = %v, want %s", err, tt.locator)
			}
		})
	}
}

func TestBind_Missing(t *testing.T) {
	t.Parallel()

	p := &catalog.Process{
		Identifier: "bare",
		Datasets: []catalog.DatasetGroup{{
			Inputs:    []string{catalog.AxisModel},
			MinOccurs: 1,
			MaxOccurs: 1,
		}},
	}
	_, err := Binder{}.Bind(p, nil)
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("Bind() error = %v, want ErrMissingInput", err)
	}
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	p := bindProcess()
	inputs := map[string]catalog.Input{}
	for _, in := range p.Inputs() {
		inputs[in.Identifier] = in
	}

	tests := []struct {
		name string
		data DataSource
		id   string
		want []string
	}{
		{name: "models from archive", data: archiveData(), id: "model", want: []string{"CanESM2", "MPI-ESM-LR"}},
		{name: "experiments from archive", data: archiveData(), id: "experiment", want: []string{"historical", "rcp85"}},
		{name: "defaults without data", id: "model", want: []string{"MPI-ESM-LR"}},
		{name: "defaults with empty archive", data: &fakeData{}, id: "ensemble", want: []string{"r1i1p1"}},
		{name: "fixed group", data: archiveData(), id: "model_obs", want: []string{"ERA-Interim", "NCEP"}},
		{name: "nothing qualifies", data: &fakeData{populated: true}, id: "model", want: []string{}},
		{name: "option", data: archiveData(), id: "season", want: []string{"DJF", "JJA"}},
		{name: "option without list", data: archiveData(), id: "threshold", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Binder{Data: tt.data}.Allowed(p, inputs[tt.id])
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Allowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
