// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing error types: ActionableError carries the
// failed operation, the resource involved and suggestions for fixing it, and
// Issue holds longer markdown help pages rendered in the terminal with glamour.
package issue
