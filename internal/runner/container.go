// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/c3s-magic/magicwps/internal/config"

	"golang.org/x/exp/slices"
)

// ContainerRuntime runs the command template inside an image.
type ContainerRuntime struct {
	engine  config.ContainerEngine
	image   string
	command string
	envFile string
	mounts  []string
	// lookPath is exec.LookPath, replaceable in tests.
	lookPath func(string) (string, error)
}

// NewContainerRuntime creates a container runtime for the configured engine.
func NewContainerRuntime(opts Options) *ContainerRuntime {
	engine := opts.Engine
	if engine == "" {
		engine = config.ContainerEngineDocker
	}
	return &ContainerRuntime{
		engine:   engine,
		image:    opts.Image,
		command:  opts.Command,
		envFile:  opts.EnvFile,
		mounts:   opts.Mounts,
		lookPath: exec.LookPath,
	}
}

// Name returns "container".
func (r *ContainerRuntime) Name() string {
	return "container"
}

// Available reports whether the engine binary exists and answers version.
func (r *ContainerRuntime) Available() bool {
	bin, err := r.lookPath(string(r.engine))
	if err != nil || r.image == "" {
		return false
	}
	return exec.Command(bin, "version").Run() == nil
}

// Run starts a throwaway container. The template is expanded on the host so
// the container receives a plain argument list.
func (r *ContainerRuntime) Run(ctx context.Context, inv Invocation) Result {
	return execute(ctx, r.Name(), inv, r.envFile, func(ctx context.Context, env commandEnv, stdout, stderr io.Writer) error {
		bin, err := r.lookPath(string(r.engine))
		if err != nil {
			return fmt.Errorf("container engine '%s' is not available: %w", r.engine, err)
		}
		args, err := r.runArgs(inv, env)
		if err != nil {
			return err
		}

		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		return cmd.Run()
	})
}

// runArgs builds: run --rm -w <workdir> [-e K=V]... [-v p:p]... <image> <command...>
func (r *ContainerRuntime) runArgs(inv Invocation, env commandEnv) ([]string, error) {
	command, err := commandFields(r.command, env.Full)
	if err != nil {
		return nil, err
	}

	args := []string{"run", "--rm", "-w", inv.Workdir}
	for _, kv := range envSlice(env.Extra) {
		args = append(args, "-e", kv)
	}
	for _, m := range r.volumes(inv) {
		args = append(args, "-v", m)
	}
	args = append(args, r.image)
	return append(args, command...), nil
}

// volumes mounts each distinct host path at the same location. Podman gets
// the :z relabel suffix.
func (r *ContainerRuntime) volumes(inv Invocation) []string {
	var paths []string
	for _, p := range append([]string{inv.Workdir}, r.mounts...) {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		v := p + ":" + p
		if r.engine == config.ContainerEnginePodman {
			v += ":z"
		}
		out = append(out, v)
	}
	return out
}
