// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/exp/slices"
)

// commandEnv is the environment of a run. Extra holds the dotenv and
// invocation variables; Full adds them on top of the host environment.
type commandEnv struct {
	Full  map[string]string
	Extra map[string]string
}

// buildEnv merges the host environment, the dotenv file and the invocation
// variables. Later sources win.
func buildEnv(inv Invocation, envFile string) (commandEnv, error) {
	extra := make(map[string]string)
	if err := loadEnvFile(extra, envFile); err != nil {
		return commandEnv{}, err
	}
	extra[EnvConfigFile] = inv.ConfigFile
	extra[EnvRecipeFile] = inv.RecipeFile
	extra[EnvWorkdir] = inv.Workdir

	full := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			full[k] = v
		}
	}
	for k, v := range extra {
		full[k] = v
	}
	return commandEnv{Full: full, Extra: extra}, nil
}

// loadEnvFile merges a dotenv file into env. A trailing '?' marks the file
// optional. An empty path is a no-op.
func loadEnvFile(env map[string]string, path string) error {
	if path == "" {
		return nil
	}
	optional := strings.HasSuffix(path, "?")
	path = strings.TrimSuffix(path, "?")

	vars, err := godotenv.Read(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read env file '%s': %w", path, err)
	}
	for k, v := range vars {
		env[k] = v
	}
	return nil
}

// envSlice converts env to KEY=VALUE pairs in key order.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// lookup adapts env for shell expansion.
func lookup(env map[string]string) func(string) string {
	return func(name string) string {
		return env[name]
	}
}
