// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE parsing utilities.
//
// Both the process catalog and the configuration file follow the same flow:
//
//  1. Compile the embedded schema
//  2. Compile (or encode) the user data and unify it with a schema definition
//  3. Validate and decode into Go values
//
// # Usage
//
//	//go:embed catalog_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Catalog](
//	    schemaBytes,
//	    data,
//	    "#Catalog",
//	    cueutil.WithFilename("processes.cue"),
//	)
//	if err != nil {
//	    return nil, err // error carries the CUE path of the offending field
//	}
//	return result.Value, nil
package cueutil
