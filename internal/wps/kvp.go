// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"net/url"
	"strings"
)

const (
	opGetCapabilities = "GetCapabilities"
	opDescribeProcess = "DescribeProcess"
	opExecute         = "Execute"

	// allProcesses selects every process in DescribeProcess.
	allProcesses = "all"
)

// kvpRequest is a parsed /wps query.
type kvpRequest struct {
	Operation   string
	Identifiers []string
	// Inputs holds Execute DataInputs; repeated keys are occurrences.
	Inputs map[string][]string
	Store  bool
	Status bool
}

// parseQuery splits a raw query string. Keys are lower-cased and the first
// occurrence wins. It is written out because net/url rejects the ';'
// separators DataInputs carries unescaped.
func parseQuery(raw string) (map[string]string, error) {
	params := make(map[string]string)
	for pair := range strings.SplitSeq(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, invalidParameter(k, "malformed parameter name")
		}
		key = strings.ToLower(key)
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, invalidParameter(key, "malformed parameter value")
		}
		if _, seen := params[key]; !seen {
			params[key] = value
		}
	}
	return params, nil
}

// parseKVP validates the common parameters and decodes the operation
// specific ones.
func parseKVP(raw string) (kvpRequest, error) {
	params, err := parseQuery(raw)
	if err != nil {
		return kvpRequest{}, err
	}

	service, ok := params["service"]
	if !ok || service == "" {
		return kvpRequest{}, missingParameter("service")
	}
	if !strings.EqualFold(service, "WPS") {
		return kvpRequest{}, invalidParameter("service", "service %q is not supported", service)
	}

	request, ok := params["request"]
	if !ok || request == "" {
		return kvpRequest{}, missingParameter("request")
	}
	var req kvpRequest
	for _, op := range []string{opGetCapabilities, opDescribeProcess, opExecute} {
		if strings.EqualFold(request, op) {
			req.Operation = op
		}
	}
	if req.Operation == "" {
		return kvpRequest{}, &RequestError{
			Code:    CodeOperationNotSupported,
			Locator: "request",
			Text:    "operation " + request + " is not supported",
		}
	}

	if v, ok := params["version"]; ok && v != wpsVersion {
		return kvpRequest{}, invalidParameter("version", "version %q is not supported, use %s", v, wpsVersion)
	}
	if req.Operation == opGetCapabilities {
		return req, nil
	}

	ids := splitList(params["identifier"])
	if len(ids) == 0 {
		return kvpRequest{}, missingParameter("identifier")
	}
	req.Identifiers = ids
	if req.Operation == opDescribeProcess {
		return req, nil
	}

	if len(ids) > 1 {
		return kvpRequest{}, invalidParameter("identifier", "Execute takes exactly one identifier")
	}
	req.Inputs, err = parseDataInputs(params["datainputs"])
	if err != nil {
		return kvpRequest{}, err
	}
	req.Store = isTrue(params["storeexecuteresponse"])
	req.Status = isTrue(params["status"])
	return req, nil
}

// parseDataInputs decodes "k=v;k=v". Attributes after '@' are dropped.
func parseDataInputs(raw string) (map[string][]string, error) {
	inputs := make(map[string][]string)
	for item := range strings.SplitSeq(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, invalidParameter("DataInputs", "malformed input %q", item)
		}
		v, _, _ = strings.Cut(v, "@")
		inputs[k] = append(inputs[k], strings.TrimSpace(v))
	}
	return inputs, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTrue(s string) bool {
	return strings.EqualFold(s, "true")
}
