// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustLoad(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return c
}

func mustGet(t *testing.T, c *Catalog, id string) *Process {
	t.Helper()
	p, ok := c.Get(id)
	if !ok {
		t.Fatalf("process %q not found", id)
	}
	return p
}

func inputIDs(p *Process) []string {
	var ids []string
	for _, in := range p.Inputs() {
		ids = append(ids, in.Identifier)
	}
	return ids
}

func outputIDs(p *Process) []string {
	var ids []string
	for _, o := range p.Outputs() {
		ids = append(ids, o.Identifier)
	}
	return ids
}

func TestLoad_Identifiers(t *testing.T) {
	t.Parallel()

	want := []string{
		"blocking", "capacity_factor", "combined_indices", "consecdrydays", "cvdp",
		"diurnal_temperature_index", "drought_indicator", "ensclus", "extreme_events", "extreme_index",
		"heatwaves_coldwaves", "hyint", "meta", "modes_of_variability", "multimodel_products",
		"perfmetrics", "preproc", "quantile_bias", "rainfarm", "shapefile_selection",
		"sleep", "smpi", "teleconnections", "toymodel", "weather_regimes", "zmnam",
	}
	if diff := cmp.Diff(want, mustLoad(t).Identifiers()); diff != "" {
		t.Errorf("Identifiers() mismatch (-want +got):\n%s", diff)
	}
}

func TestProcesses_SortedByTitle(t *testing.T) {
	t.Parallel()

	procs := mustLoad(t).Processes()
	if len(procs) != 26 {
		t.Fatalf("len(Processes()) = %d, want 26", len(procs))
	}
	for i := 1; i < len(procs); i++ {
		a, b := strings.ToLower(procs[i-1].Title), strings.ToLower(procs[i].Title)
		if a > b {
			t.Errorf("processes not sorted by title: %q before %q", procs[i-1].Title, procs[i].Title)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	c := mustLoad(t)
	p := mustGet(t, c, "blocking")

	if p.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", p.Version)
	}
	if p.Kind != KindDiagnostic {
		t.Errorf("Kind = %q, want diagnostic", p.Kind)
	}
	if !p.Archive {
		t.Error("Archive should default to true")
	}
	if p.Recipe.OutputFormat != "" {
		t.Errorf("Recipe.OutputFormat = %q, want empty", p.Recipe.OutputFormat)
	}
	if cf := mustGet(t, c, "capacity_factor"); cf.Recipe.Script != "main" {
		t.Errorf("Recipe.Script = %q, want main", cf.Recipe.Script)
	}
	g := p.Datasets[0]
	if diff := cmp.Diff([]string{"historical"}, g.Experiments); diff != "" {
		t.Errorf("Experiments default mismatch (-want +got):\n%s", diff)
	}
	if g.MinOccurs != 1 || g.MaxOccurs != 1 {
		t.Errorf("occurs = %d..%d, want 1..1", g.MinOccurs, g.MaxOccurs)
	}
	if p.Documentation() == "" {
		t.Error("Documentation() should return the recipe docs link")
	}

	season, ok := p.Option("season")
	if !ok {
		t.Fatal("season option missing")
	}
	if season.Type != TypeString || season.Setting != "season" {
		t.Errorf("season = %+v, want string type and setting season", season)
	}

	meta := mustGet(t, c, MetaProcess)
	if meta.Archive {
		t.Error("meta process should not archive")
	}
}

func TestInputs_SingleGroup(t *testing.T) {
	t.Parallel()

	p := mustGet(t, mustLoad(t), "blocking")
	want := []string{"model", "experiment", "ensemble", "start_year", "end_year", "season"}
	if diff := cmp.Diff(want, inputIDs(p)); diff != "" {
		t.Fatalf("Inputs() mismatch (-want +got):\n%s", diff)
	}

	in, _ := p.Input("model")
	if in.Default() != "EC-EARTH" || in.Abstract != "Choose a model like EC-EARTH." {
		t.Errorf("model input = %+v", in)
	}
	if in.Filter {
		t.Error("blocking model input should not filter on the DataFinder")
	}

	start, _ := p.Input("start_year")
	if start.Title != "Start year (1850)" || start.Default() != "1980" {
		t.Errorf("start_year = %q default %q", start.Title, start.Default())
	}
	end, _ := p.Input("end_year")
	if end.Title != "End year (till 2005)" || *end.Max != 2005 {
		t.Errorf("end_year = %q max %v", end.Title, *end.Max)
	}
}

func TestInputs_NamedGroups(t *testing.T) {
	t.Parallel()

	p := mustGet(t, mustLoad(t), "extreme_index")
	want := []string{
		"model_historical", "experiment_historical", "ensemble_historical",
		"model_projection", "experiment_projection", "ensemble_projection",
		"start_historical", "end_historical", "start_projection", "end_projection",
		"metric",
	}
	if diff := cmp.Diff(want, inputIDs(p)); diff != "" {
		t.Fatalf("Inputs() mismatch (-want +got):\n%s", diff)
	}

	in, _ := p.Input("experiment_projection")
	if in.Default() != "rcp85" || in.Title != "Experiment projection" {
		t.Errorf("experiment_projection = %q default %q", in.Title, in.Default())
	}
}

func TestInputs_MultiOccurrence(t *testing.T) {
	t.Parallel()

	p := mustGet(t, mustLoad(t), "ensclus")
	in, ok := p.Input("model")
	if !ok {
		t.Fatal("model input missing")
	}
	if in.MinOccurs != 3 || in.MaxOccurs != 100 {
		t.Errorf("occurs = %d..%d, want 3..100", in.MinOccurs, in.MaxOccurs)
	}
	if len(in.Defaults) != 3 {
		t.Errorf("len(Defaults) = %d, want 3", len(in.Defaults))
	}
}

func TestOutputs(t *testing.T) {
	t.Parallel()

	c := mustLoad(t)

	cvdp := mustGet(t, c, "cvdp")
	want := []string{OutputSuccess, OutputRecipe, OutputLog, OutputDebugLog, OutputArchive}
	if diff := cmp.Diff(want, outputIDs(cvdp)); diff != "" {
		t.Errorf("cvdp Outputs() mismatch (-want +got):\n%s", diff)
	}

	sleep := mustGet(t, c, "sleep")
	if diff := cmp.Diff([]string{"sleep_output"}, outputIDs(sleep)); diff != "" {
		t.Errorf("sleep Outputs() mismatch (-want +got):\n%s", diff)
	}
	if sleep.Outputs()[0].Complex() {
		t.Error("sleep_output should be literal data")
	}

	meta := mustGet(t, c, MetaProcess)
	drs := meta.Outputs()[0]
	if !drs.Complex() || drs.MimeType() != "application/json" {
		t.Errorf("drs output = %+v, want inline application/json", drs)
	}

	zmnam := mustGet(t, c, "zmnam")
	ids := outputIDs(zmnam)
	if ids[0] != "5000pa_mo_reg_plot" {
		t.Errorf("first zmnam output = %q, want 5000pa_mo_reg_plot", ids[0])
	}
	if len(zmnam.Outputs()) != 12+4+5 {
		t.Errorf("len(zmnam outputs) = %d, want 21", len(zmnam.Outputs()))
	}
}

func TestMetaProcess_OffersDiagnostics(t *testing.T) {
	t.Parallel()

	c := mustLoad(t)
	opt, ok := mustGet(t, c, MetaProcess).Option(MetaProcessOption)
	if !ok {
		t.Fatal("meta process option missing")
	}
	var want []string
	for _, p := range c.Diagnostics() {
		want = append(want, p.Identifier)
	}
	if diff := cmp.Diff(want, opt.Allowed); diff != "" {
		t.Errorf("allowed processes mismatch (-want +got):\n%s", diff)
	}
	for _, id := range opt.Allowed {
		if id == MetaProcess || id == "sleep" {
			t.Errorf("meta process should not offer %q", id)
		}
	}
}

const validHeader = `
processes: [{
	identifier: "demo"
	title:      "Demo"
	datasets: [{}]
	years: [{min: 2000, max: 2010}]
`

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cue  string
		want string
	}{
		{
			name: "missing recipe",
			cue:  validHeader + `}]`,
			want: "need a recipe",
		},
		{
			name: "default outside allowed",
			cue: validHeader + `
	recipe: {diagnostic: "d", script_path: "d.py"}
	options: [{identifier: "season", title: "Season", default: "XYZ", allowed: ["DJF"]}]
}]`,
			want: `option "season"`,
		},
		{
			name: "default outside range",
			cue: validHeader + `
	recipe: {diagnostic: "d", script_path: "d.py"}
	options: [{identifier: "n", title: "N", type: "integer", default: "0", min: 1}]
}]`,
			want: "below the minimum",
		},
		{
			name: "year default outside bounds",
			cue: `
processes: [{
	identifier: "demo"
	title:      "Demo"
	recipe: {diagnostic: "d", script_path: "d.py"}
	datasets: [{}]
	years: [{min: 2000, max: 2010, default_start: 1990}]
}]`,
			want: "default start 1990",
		},
		{
			name: "unknown placeholder",
			cue: validHeader + `
	recipe: {diagnostic: "d", script_path: "d.py"}
	outputs: [{identifier: "plot", title: "Plot", path: "d/{nope}"}]
}]`,
			want: "unknown placeholder {nope}",
		},
		{
			name: "duplicate process",
			cue: `
processes: [
	{identifier: "s", title: "S", kind: "sleep", options: [{identifier: "delay", title: "D", type: "float", default: "1"}]},
	{identifier: "s", title: "S", kind: "sleep", options: [{identifier: "delay", title: "D", type: "float", default: "1"}]},
]`,
			want: `duplicate process "s"`,
		},
		{
			name: "duplicate output",
			cue: validHeader + `
	recipe: {diagnostic: "d", script_path: "d.py"}
	outputs: [{identifier: "log", title: "Log"}]
}]`,
			want: `duplicate output "log"`,
		},
		{
			name: "unknown year range",
			cue: `
processes: [{
	identifier: "demo"
	title:      "Demo"
	recipe: {diagnostic: "d", script_path: "d.py"}
	datasets: [{years: "historical"}]
	years: [{min: 2000, max: 2010}]
}]`,
			want: `unknown year range "historical"`,
		},
		{
			name: "fixed axis without single value",
			cue: validHeader + `
	recipe: {diagnostic: "d", script_path: "d.py"}
	datasets: [{inputs: ["model"], experiments: ["a", "b"]}]
}]`,
			want: "fixed experiment needs exactly one value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.cue), "test.cue")
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !errors.Is(err, ErrInvalidCatalog) {
				t.Fatalf("error should wrap ErrInvalidCatalog, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParse_SchemaViolation(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`processes: [{identifier: "Bad-Id", title: "x"}]`), "bad.cue")
	if err == nil {
		t.Fatal("Parse() should reject an invalid identifier")
	}
	if errors.Is(err, ErrInvalidCatalog) {
		t.Error("schema violations should not be reported as consistency errors")
	}
	if !strings.Contains(err.Error(), "bad.cue") {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.cue")
	data := `processes: [{identifier: "nap", title: "Nap", kind: "sleep", options: [{identifier: "delay", title: "Delay", type: "float", default: "0.5", min: 0}], outputs: [{identifier: "sleep_output", title: "Out", kind: "literal", format: "string"}]}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if diff := cmp.Diff([]string{"nap"}, c.Identifiers()); diff != "" {
		t.Errorf("Identifiers() mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestOption_CheckAndExport(t *testing.T) {
	t.Parallel()

	one := 1.0
	hundred := 100.0
	mapped := Option{Type: TypeString, Allowed: []string{"exceedances", "non-exceedances"}, Map: map[string]string{"exceedances": ">"}}

	tests := []struct {
		name    string
		opt     Option
		raw     string
		wantErr bool
		want    any
	}{
		{"integer in range", Option{Type: TypeInteger, Min: &one, Max: &hundred}, "80", false, 80},
		{"integer above range", Option{Type: TypeInteger, Min: &one, Max: &hundred}, "101", true, nil},
		{"integer not a number", Option{Type: TypeInteger}, "abc", true, nil},
		{"float", Option{Type: TypeFloat}, "0.7", false, 0.7},
		{"boolean", Option{Type: TypeBoolean}, "True", false, true},
		{"boolean invalid", Option{Type: TypeBoolean}, "maybe", true, nil},
		{"allowed string", Option{Type: TypeString, Allowed: []string{"DJF", "JJA"}}, "JJA", false, "JJA"},
		{"disallowed string", Option{Type: TypeString, Allowed: []string{"DJF"}}, "JJA", true, nil},
		{"null when listed", Option{Type: TypeInteger, Allowed: []string{"1", "null"}}, "null", false, nil},
		{"null when not listed", Option{Type: TypeInteger}, "null", true, nil},
		{"mapped value", mapped, "exceedances", false, ">"},
		{"unmapped value", mapped, "non-exceedances", false, "non-exceedances"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.opt.Check(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, err := tt.opt.Export(tt.raw)
			if err != nil {
				t.Fatalf("Export(%q) error = %v", tt.raw, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Export(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Parallel()

	values := map[string]string{"model": "ACCESS1-0", "season": "DJF"}
	got := ExpandPath("miles/{model}/{season}/{unknown}", values)
	if got != "miles/ACCESS1-0/DJF/{unknown}" {
		t.Errorf("ExpandPath() = %q", got)
	}
	if diff := cmp.Diff([]string{"model", "season", "unknown"}, Placeholders("miles/{model}/{season}/{unknown}")); diff != "" {
		t.Errorf("Placeholders() mismatch (-want +got):\n%s", diff)
	}
}

func TestMimeType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"png":  "image/png",
		".nc":  "application/x-netcdf",
		"zip":  "application/zip",
		"yml":  "text/plain",
		"XLSX": "application/vnd.ms-excel",
		"bin":  "application/octet-stream",
	}
	for format, want := range tests {
		if got := MimeType(format); got != want {
			t.Errorf("MimeType(%q) = %q, want %q", format, got, want)
		}
	}
}
