// SPDX-License-Identifier: MPL-2.0

// Package datafinder indexes a CMIP5 DRS directory tree.
//
// A Finder scans the archive once (or loads a JSON cache of a previous scan)
// and answers two questions for a diagnostic that needs a set of variables at
// a given frequency: which branches of the tree hold that data (PrunedTree),
// and which model/experiment/ensemble combinations can be offered to the user
// (ModelExperimentEnsemble).
package datafinder
