// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseKVP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		want    kvpRequest
		code    string
		locator string
	}{
		{
			name:  "capabilities",
			query: "service=WPS&request=GetCapabilities",
			want:  kvpRequest{Operation: opGetCapabilities},
		},
		{
			name:  "case insensitive names and values",
			query: "SERVICE=wps&Request=describeprocess&Version=1.0.0&Identifier=sleep,meta",
			want:  kvpRequest{Operation: opDescribeProcess, Identifiers: []string{"sleep", "meta"}},
		},
		{
			name:  "execute with data inputs",
			query: "service=wps&request=Execute&version=1.0.0&identifier=perfmetrics&storeExecuteResponse=true&status=true&DataInputs=model=MPI-ESM-LR;model=bcc-csm1-1;start_year=1990@datatype=integer",
			want: kvpRequest{
				Operation:   opExecute,
				Identifiers: []string{"perfmetrics"},
				Inputs: map[string][]string{
					"model":      {"MPI-ESM-LR", "bcc-csm1-1"},
					"start_year": {"1990"},
				},
				Store:  true,
				Status: true,
			},
		},
		{
			name:  "escaped data inputs",
			query: "service=wps&request=Execute&identifier=sleep&DataInputs=delay%3D0.5",
			want: kvpRequest{
				Operation:   opExecute,
				Identifiers: []string{"sleep"},
				Inputs:      map[string][]string{"delay": {"0.5"}},
			},
		},
		{
			name:  "execute without inputs",
			query: "service=wps&request=Execute&identifier=sleep",
			want: kvpRequest{
				Operation:   opExecute,
				Identifiers: []string{"sleep"},
				Inputs:      map[string][]string{},
			},
		},
		{name: "missing service", query: "request=GetCapabilities", code: CodeMissingParameterValue, locator: "service"},
		{name: "wrong service", query: "service=WMS&request=GetCapabilities", code: CodeInvalidParameterValue, locator: "service"},
		{name: "missing request", query: "service=WPS", code: CodeMissingParameterValue, locator: "request"},
		{name: "unknown request", query: "service=WPS&request=GetStatus", code: CodeOperationNotSupported, locator: "request"},
		{name: "wrong version", query: "service=WPS&request=DescribeProcess&version=2.0.0&identifier=sleep", code: CodeInvalidParameterValue, locator: "version"},
		{name: "describe without identifier", query: "service=WPS&request=DescribeProcess", code: CodeMissingParameterValue, locator: "identifier"},
		{name: "execute two identifiers", query: "service=WPS&request=Execute&identifier=a,b", code: CodeInvalidParameterValue, locator: "identifier"},
		{name: "malformed input", query: "service=WPS&request=Execute&identifier=a&DataInputs=model", code: CodeInvalidParameterValue, locator: "DataInputs"},
		{name: "malformed escape", query: "service=WPS&request=Execute&identifier=%zz", code: CodeInvalidParameterValue, locator: "identifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseKVP(tt.query)
			if tt.code != "" {
				var re *RequestError
				if !errors.As(err, &re) {
					t.Fatalf("parseKVP() error = %v, want RequestError", err)
				}
				if re.Code != tt.code || re.Locator != tt.locator {
					t.Errorf("parseKVP() = %s/%s, want %s/%s", re.Code, re.Locator, tt.code, tt.locator)
				}
				if !errors.Is(err, ErrRequest) {
					t.Error("error does not wrap ErrRequest")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseKVP() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseKVP() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequestError_HTTPStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		CodeMissingParameterValue: 400,
		CodeInvalidParameterValue: 400,
		CodeOperationNotSupported: 501,
		CodeNoApplicableCode:      500,
	}
	for code, want := range tests {
		if got := (&RequestError{Code: code}).HTTPStatus(); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
	if got := (&RequestError{Code: CodeInvalidParameterValue, Status: 404}).HTTPStatus(); got != 404 {
		t.Errorf("HTTPStatus() with override = %d, want 404", got)
	}
}
