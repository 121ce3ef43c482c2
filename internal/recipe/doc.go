// SPDX-License-Identifier: MPL-2.0

// Package recipe writes the ESMValTool user configuration and the recipe of a
// diagnostic run into a job working directory.
package recipe
