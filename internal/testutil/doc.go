// SPDX-License-Identifier: MPL-2.0

// Package testutil provides fixtures shared by the package tests: DRS
// archive and output trees on disk, resource cleanup that fails the test
// properly, and a manually advanced clock for job timestamps.
package testutil
