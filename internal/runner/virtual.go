// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// VirtualRuntime interprets the command template with mvdan/sh.
type VirtualRuntime struct {
	command string
	envFile string
}

// NewVirtualRuntime creates a virtual runtime.
func NewVirtualRuntime(opts Options) *VirtualRuntime {
	return &VirtualRuntime{command: opts.Command, envFile: opts.EnvFile}
}

// Name returns "virtual".
func (r *VirtualRuntime) Name() string {
	return "virtual"
}

// Available reports whether the template parses. The interpreter itself is
// built in.
func (r *VirtualRuntime) Available() bool {
	_, err := syntax.NewParser().Parse(strings.NewReader(r.command), "command")
	return err == nil && strings.TrimSpace(r.command) != ""
}

// Run interprets the template in the job directory.
func (r *VirtualRuntime) Run(ctx context.Context, inv Invocation) Result {
	return execute(ctx, r.Name(), inv, r.envFile, func(ctx context.Context, env commandEnv, stdout, stderr io.Writer) error {
		prog, err := syntax.NewParser().Parse(strings.NewReader(r.command), "command")
		if err != nil {
			return fmt.Errorf("failed to parse command template: %w", err)
		}

		runner, err := interp.New(
			interp.Dir(inv.Workdir),
			interp.Env(expand.ListEnviron(envSlice(env.Full)...)),
			interp.StdIO(nil, stdout, stderr),
		)
		if err != nil {
			return fmt.Errorf("failed to create interpreter: %w", err)
		}

		if err := runner.Run(ctx, prog); err != nil {
			var status interp.ExitStatus
			if errors.As(err, &status) {
				return fmt.Errorf("command exited with status %d", status)
			}
			return fmt.Errorf("command execution failed: %w", err)
		}
		return nil
	})
}
