// SPDX-License-Identifier: MPL-2.0

// Package jobstore persists WPS job records in SQLite.
package jobstore
