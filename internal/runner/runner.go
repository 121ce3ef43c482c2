// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/internal/logging"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/exp/slices"
)

const (
	// EnvConfigFile is the path of the generated ESMValTool user config.
	EnvConfigFile = "CONFIG_FILE"
	// EnvRecipeFile is the path of the generated recipe.
	EnvRecipeFile = "RECIPE_FILE"
	// EnvWorkdir is the job working directory.
	EnvWorkdir = "WORKDIR"

	mainLog  = "main_log.txt"
	debugLog = "main_log_debug.txt"
)

type (
	// Invocation describes one toolkit run.
	Invocation struct {
		Workdir    string
		ConfigFile string
		RecipeFile string
		// OutputDir defaults to <Workdir>/output.
		OutputDir string
		// Stdout and Stderr receive the command output in addition to the
		// captured stderr tail. Both may be nil.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Result is the outcome of a run. Directory fields are empty when the
	// toolkit produced no run directory.
	Result struct {
		Success bool
		// Exception is the tail of stderr on failure, or the start error.
		Exception    string
		LogFile      string
		DebugLogFile string
		PlotDir      string
		WorkDir      string
		RunDir       string
	}

	// Runtime launches the toolkit.
	Runtime interface {
		Name() string
		Available() bool
		Run(ctx context.Context, inv Invocation) Result
	}

	// Registry holds the runtimes by mode.
	Registry struct {
		runtimes map[config.RuntimeMode]Runtime
	}

	// Options configures the runtimes built by NewRegistry.
	Options struct {
		Command string
		EnvFile string
		Image   string
		Engine  config.ContainerEngine
		// Mounts are extra host paths made visible inside the container.
		Mounts []string
	}
)

// OptionsFromConfig maps the configuration onto runtime options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Command: cfg.ESMValTool.Command,
		EnvFile: cfg.ESMValTool.EnvFile,
		Image:   cfg.ESMValTool.Image,
		Engine:  cfg.ESMValTool.ContainerEngine,
		Mounts:  []string{cfg.Data.ArchiveRoot, cfg.Data.ObsRoot},
	}
}

// NewRegistry registers the native, virtual and container runtimes.
func NewRegistry(opts Options) *Registry {
	r := &Registry{runtimes: make(map[config.RuntimeMode]Runtime)}
	r.Register(config.RuntimeNative, NewNativeRuntime(opts))
	r.Register(config.RuntimeVirtual, NewVirtualRuntime(opts))
	r.Register(config.RuntimeContainer, NewContainerRuntime(opts))
	return r
}

// Register adds or replaces a runtime.
func (r *Registry) Register(mode config.RuntimeMode, rt Runtime) {
	r.runtimes[mode] = rt
}

// Get returns the runtime for mode.
func (r *Registry) Get(mode config.RuntimeMode) (Runtime, error) {
	rt, ok := r.runtimes[mode]
	if !ok {
		return nil, fmt.Errorf("runtime '%s' not registered", mode)
	}
	return rt, nil
}

// Available returns the modes whose runtime can run on this system.
func (r *Registry) Available() []config.RuntimeMode {
	var modes []config.RuntimeMode
	for mode, rt := range r.runtimes {
		if rt.Available() {
			modes = append(modes, mode)
		}
	}
	slices.Sort(modes)
	return modes
}

// Resolve returns the runtime for mode, failing when it is unavailable.
func (r *Registry) Resolve(mode config.RuntimeMode) (Runtime, error) {
	rt, err := r.Get(mode)
	if err != nil {
		return nil, err
	}
	if !rt.Available() {
		return nil, issue.NewErrorContext().
			WithOperation("select runtime").
			WithResource(string(mode)).
			WithSuggestion("Set esmvaltool.runtime to one of the available runtimes").
			WithSuggestion("Run 'magicwps config show' to inspect the current setting").
			WithIssue(unavailableIssue(mode)).
			Wrap(fmt.Errorf("runtime '%s' is not available on this system", rt.Name())).
			BuildError()
	}
	return rt, nil
}

// unavailableIssue picks the guide page for an unavailable runtime.
func unavailableIssue(mode config.RuntimeMode) issue.Id {
	switch mode {
	case config.RuntimeNative:
		return issue.ToolkitNotFoundId
	case config.RuntimeContainer:
		return issue.ContainerEngineNotFoundId
	default:
		return issue.RuntimeNotAvailableId
	}
}

// execFunc runs the command with the given environment and writers.
type execFunc func(ctx context.Context, env commandEnv, stdout, stderr io.Writer) error

// execute wires output capture around run and inspects the output directory.
func execute(ctx context.Context, name string, inv Invocation, envFile string, run execFunc) Result {
	log := logging.For("runner")

	env, err := buildEnv(inv, envFile)
	if err != nil {
		return Result{Exception: err.Error()}
	}

	tail := newTailBuffer(tailSize)
	stdout := io.Discard
	if inv.Stdout != nil {
		stdout = inv.Stdout
	}
	var stderr io.Writer = tail
	if inv.Stderr != nil {
		stderr = io.MultiWriter(tail, inv.Stderr)
	}

	log.Info("running toolkit", "runtime", name, "recipe", inv.RecipeFile)
	runErr := run(ctx, env, stdout, stderr)

	res := collect(outputDir(inv))
	if runErr == nil {
		res.Success = true
		return res
	}

	res.Exception = tail.Lines(tailLines)
	if res.Exception == "" {
		res.Exception = runErr.Error()
	}
	log.Warn("toolkit failed", "runtime", name, "error", runErr)
	return res
}

func outputDir(inv Invocation) string {
	if inv.OutputDir != "" {
		return inv.OutputDir
	}
	return filepath.Join(inv.Workdir, "output")
}

// collect locates the newest recipe_* run below outputDir. ESMValTool suffixes
// run directories with a timestamp, so the lexically last one is the newest.
func collect(outputDir string) Result {
	matches, err := doublestar.FilepathGlob(filepath.Join(outputDir, "recipe_*"))
	if err != nil {
		return Result{}
	}

	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	if len(dirs) == 0 {
		return Result{}
	}
	slices.Sort(dirs)
	latest := dirs[len(dirs)-1]

	run := filepath.Join(latest, "run")
	return Result{
		PlotDir:      filepath.Join(latest, "plots"),
		WorkDir:      filepath.Join(latest, "work"),
		RunDir:       run,
		LogFile:      filepath.Join(run, mainLog),
		DebugLogFile: filepath.Join(run, debugLog),
	}
}
