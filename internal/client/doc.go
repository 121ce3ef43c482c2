// SPDX-License-Identifier: MPL-2.0

// Package client submits Execute requests to a running WPS service. It is a
// canary for test deployments and is not meant for production use.
package client
