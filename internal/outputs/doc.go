// SPDX-License-Identifier: MPL-2.0

// Package outputs locates diagnostic result files, checks NetCDF results and
// packs a run directory into a zip archive.
package outputs
