// SPDX-License-Identifier: MPL-2.0

// Package config loads magicwps configuration.
//
// Values come from built-in defaults, then a config.cue (or config.toml) file
// validated against the embedded #Config schema, then MAGICWPS_* environment
// variables. Keys are snake_case and nested by section, e.g. server.port.
package config
