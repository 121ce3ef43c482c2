// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/issue"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the ESMValTool user configuration written per job.
	ConfigFileName = "config.yml"
	// OutputDirName is the ESMValTool output directory below the workdir.
	OutputDirName = "output"
)

// ErrNoRecipe is returned for processes without a recipe.
var ErrNoRecipe = errors.New("process has no recipe")

type (
	// Options carries the deployment settings that end up in config.yml.
	Options struct {
		ArchiveRoot      string
		ObsRoot          string
		OutputFileType   string
		LogLevel         string
		MaxParallelTasks int
	}

	// Request describes one diagnostic run. Values holds the validated input
	// values by identifier; inputs that were not submitted take their defaults.
	Request struct {
		Workdir string
		Process *catalog.Process
		Values  map[string][]string
		Options Options
	}

	// Files are the paths written by Generate.
	Files struct {
		ConfigFile string
		RecipeFile string
		OutputDir  string
	}

	userConfig struct {
		RootPath         map[string]string `yaml:"rootpath"`
		DRS              map[string]string `yaml:"drs"`
		OutputDir        string            `yaml:"output_dir"`
		OutputFileType   string            `yaml:"output_file_type"`
		WritePlots       bool              `yaml:"write_plots"`
		WriteNetCDF      bool              `yaml:"write_netcdf"`
		LogLevel         string            `yaml:"log_level"`
		MaxParallelTasks int               `yaml:"max_parallel_tasks"`
	}

	recipeDoc struct {
		Documentation documentation         `yaml:"documentation"`
		Datasets      []Dataset             `yaml:"datasets"`
		Preprocessors map[string]any        `yaml:"preprocessors,omitempty"`
		Diagnostics   map[string]diagnostic `yaml:"diagnostics"`
	}

	documentation struct {
		Description string   `yaml:"description"`
		Projects    []string `yaml:"projects"`
		References  []string `yaml:"references,omitempty"`
	}

	diagnostic struct {
		Description string                    `yaml:"description,omitempty"`
		Variables   map[string]variable       `yaml:"variables"`
		Scripts     map[string]map[string]any `yaml:"scripts"`
	}

	variable struct {
		Mip              string `yaml:"mip"`
		Preprocessor     string `yaml:"preprocessor,omitempty"`
		ReferenceDataset string `yaml:"reference_dataset,omitempty"`
		StartYear        int    `yaml:"start_year,omitempty"`
		EndYear          int    `yaml:"end_year,omitempty"`
	}
)

// Generate writes config.yml and recipe_<process>.yml into req.Workdir.
func Generate(req Request) (Files, error) {
	p := req.Process
	if p == nil || p.Recipe == nil {
		return Files{}, ErrNoRecipe
	}

	files := Files{
		ConfigFile: filepath.Join(req.Workdir, ConfigFileName),
		RecipeFile: filepath.Join(req.Workdir, "recipe_"+p.Identifier+".yml"),
		OutputDir:  filepath.Join(req.Workdir, OutputDirName),
	}

	if err := os.MkdirAll(files.OutputDir, 0o755); err != nil {
		return Files{}, wrapWrite(err, files.OutputDir)
	}

	cfg := buildConfig(req, files.OutputDir)
	if err := writeYAML(files.ConfigFile, cfg); err != nil {
		return Files{}, err
	}

	doc, err := buildRecipe(req)
	if err != nil {
		return Files{}, err
	}
	if err := writeYAML(files.RecipeFile, doc); err != nil {
		return Files{}, err
	}
	return files, nil
}

func buildConfig(req Request, outputDir string) userConfig {
	fileType := req.Options.OutputFileType
	if req.Process.Recipe.OutputFormat != "" {
		fileType = req.Process.Recipe.OutputFormat
	}
	if fileType == "" {
		fileType = "png"
	}
	logLevel := req.Options.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	tasks := req.Options.MaxParallelTasks
	if tasks < 1 {
		tasks = 1
	}

	return userConfig{
		RootPath: map[string]string{
			"CMIP5":   req.Options.ArchiveRoot,
			"OBS":     req.Options.ObsRoot,
			"default": req.Options.ArchiveRoot,
		},
		DRS: map[string]string{
			"CMIP5": "BADC",
			"OBS":   "default",
		},
		OutputDir:        outputDir,
		OutputFileType:   fileType,
		WritePlots:       true,
		WriteNetCDF:      true,
		LogLevel:         logLevel,
		MaxParallelTasks: tasks,
	}
}

func buildRecipe(req Request) (recipeDoc, error) {
	p := req.Process
	r := p.Recipe
	sub := newSubstituter(p, req.Values)

	datasets, err := Datasets(p, req.Values)
	if err != nil {
		return recipeDoc{}, err
	}
	for _, s := range r.Datasets {
		datasets = append(datasets, staticDataset(s))
	}
	if ref := reference(p, req.Values, datasets); ref != nil {
		datasets = append(datasets, *ref)
	}

	vars := make(map[string]variable, len(r.Variables))
	for _, v := range r.Variables {
		name := catalog.ExpandPath(v.ShortName, sub.single)
		vars[name] = variable{
			Mip:              v.Mip,
			Preprocessor:     v.Preprocessor,
			ReferenceDataset: catalog.ExpandPath(v.ReferenceDataset, sub.single),
			StartYear:        v.StartYear,
			EndYear:          v.EndYear,
		}
	}

	settings, err := scriptSettings(p, req.Values, sub)
	if err != nil {
		return recipeDoc{}, err
	}
	scripts := map[string]map[string]any{
		r.Script: withScript(settings, r.ScriptPath),
	}
	for name, path := range r.ExtraScripts {
		scripts[name] = withScript(settings, path)
	}

	preprocessors, _ := sub.apply(r.Preprocessors).(map[string]any)

	description := r.Description
	if description == "" {
		description = p.Title
	}
	doc := recipeDoc{
		Documentation: documentation{
			Description: description,
			Projects:    []string{"c3s-magic"},
		},
		Datasets:      datasets,
		Preprocessors: preprocessors,
		Diagnostics: map[string]diagnostic{
			r.Diagnostic: {
				Description: p.Title,
				Variables:   vars,
				Scripts:     scripts,
			},
		},
	}
	if doc.Datasets == nil {
		doc.Datasets = []Dataset{}
	}
	return doc, nil
}

// scriptSettings merges static settings, exported options and named year
// ranges, in that order of precedence.
func scriptSettings(p *catalog.Process, values map[string][]string, sub substituter) (map[string]any, error) {
	settings := map[string]any{}
	if static, ok := sub.apply(p.Recipe.Settings).(map[string]any); ok {
		for k, v := range static {
			settings[k] = v
		}
	}
	for _, o := range p.Options {
		if o.Setting == "" {
			continue
		}
		v, err := o.Export(first(values, o.Identifier, o.Default))
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", o.Identifier, err)
		}
		settings[o.Setting] = v
	}
	for _, y := range p.Years {
		if y.Name == "" {
			continue
		}
		start, end, err := yearValues(y, values)
		if err != nil {
			return nil, err
		}
		settings["start_"+y.Name] = fmt.Sprintf("%d-01-01", start)
		settings["end_"+y.Name] = fmt.Sprintf("%d-12-31", end)
	}
	return settings, nil
}

func withScript(settings map[string]any, path string) map[string]any {
	out := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		out[k] = v
	}
	out["script"] = path
	return out
}

func writeYAML(path string, v any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return wrapWrite(err, path)
	}
	return nil
}

func wrapWrite(err error, path string) error {
	ec := issue.NewErrorContext().
		WithOperation("write recipe").
		WithResource(path).
		WithSuggestion("Check that jobs.workdir is writable")
	if errors.Is(err, fs.ErrPermission) {
		ec.WithIssue(issue.PermissionDeniedId)
	}
	return ec.Wrap(err).BuildError()
}

func first(values map[string][]string, id, fallback string) string {
	if vs := values[id]; len(vs) > 0 {
		return vs[0]
	}
	return fallback
}

func yearValues(y catalog.YearRange, values map[string][]string) (start, end int, err error) {
	start, err = strconv.Atoi(first(values, y.StartID(), strconv.Itoa(y.DefaultStart)))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", y.StartID(), err)
	}
	end, err = strconv.Atoi(first(values, y.EndID(), strconv.Itoa(y.DefaultEnd)))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", y.EndID(), err)
	}
	return start, end, nil
}
