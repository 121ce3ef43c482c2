// SPDX-License-Identifier: MPL-2.0

// Package wps serves the process catalog over a minimal WPS 1.0.0 KVP
// interface.
//
// GetCapabilities, DescribeProcess and Execute are answered on /wps. Execute
// either runs the process within the request or, when the client asks for a
// stored response with status updates, accepts it as a background job whose
// ExecuteResponse document is served from /status/{id}. Job files are served
// from /outputs/.
package wps
