// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for magicwps.
//
// The root command wires configuration, logging and the process catalog;
// subcommands serve the WPS, submit canary requests, inspect the catalog
// and the data archive, and manage the configuration file.
package cmd
