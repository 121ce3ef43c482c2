// SPDX-License-Identifier: MPL-2.0

// Package runner launches ESMValTool for a prepared job directory.
//
// Three runtimes are available:
//
//   - native: the command template is split with POSIX word rules and executed
//     directly on the host.
//   - virtual: the template runs through the embedded mvdan/sh interpreter, so
//     it may use pipes, conditionals and redirections without a system shell.
//   - container: the template runs inside an image via docker or podman, with
//     the job directory and data roots mounted at their host paths.
//
// Every runtime exports CONFIG_FILE, RECIPE_FILE and WORKDIR to the command
// and inspects the newest ESMValTool run directory afterwards.
package runner
