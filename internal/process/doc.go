// SPDX-License-Identifier: MPL-2.0

// Package process binds WPS inputs to catalog processes and runs them.
//
// Binding checks submitted values against the process declaration and the
// data available in the archive, and fills in defaults. Execution dispatches
// on the process kind: diagnostic processes generate a recipe, run the toolkit
// and collect its files; sleep waits; meta reports the available data.
// Progress is reported through a Reporter.
package process
