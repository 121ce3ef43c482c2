// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"mvdan.cc/sh/v3/shell"
)

// ErrEmptyCommand is returned when the command template expands to nothing.
var ErrEmptyCommand = errors.New("command template is empty")

// NativeRuntime executes the command template directly on the host.
type NativeRuntime struct {
	command string
	envFile string
}

// NewNativeRuntime creates a native runtime.
func NewNativeRuntime(opts Options) *NativeRuntime {
	return &NativeRuntime{command: opts.Command, envFile: opts.EnvFile}
}

// Name returns "native".
func (r *NativeRuntime) Name() string {
	return "native"
}

// Available reports whether the program named by the template is on PATH.
func (r *NativeRuntime) Available() bool {
	args, err := shell.Fields(r.command, func(string) string { return "" })
	if err != nil || len(args) == 0 {
		return false
	}
	_, err = exec.LookPath(args[0])
	return err == nil
}

// Run expands the template with the run environment and executes it.
func (r *NativeRuntime) Run(ctx context.Context, inv Invocation) Result {
	return execute(ctx, r.Name(), inv, r.envFile, func(ctx context.Context, env commandEnv, stdout, stderr io.Writer) error {
		args, err := commandFields(r.command, env.Full)
		if err != nil {
			return err
		}

		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = inv.Workdir
		cmd.Env = envSlice(env.Full)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		return cmd.Run()
	})
}

// commandFields splits the template with POSIX word rules, expanding
// variables from env.
func commandFields(template string, env map[string]string) ([]string, error) {
	args, err := shell.Fields(template, lookup(env))
	if err != nil {
		return nil, fmt.Errorf("failed to parse command template: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}
