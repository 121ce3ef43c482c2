// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/c3s-magic/magicwps/internal/process"
)

// OWS exception codes.
const (
	CodeMissingParameterValue = "MissingParameterValue"
	CodeInvalidParameterValue = "InvalidParameterValue"
	CodeOperationNotSupported = "OperationNotSupported"
	CodeNoApplicableCode      = "NoApplicableCode"
)

// ErrRequest is the sentinel wrapped by every RequestError.
var ErrRequest = errors.New("wps request rejected")

// RequestError is a failure reported to the client as an ExceptionReport.
type RequestError struct {
	Code    string
	Locator string
	Text    string
	// Status overrides the HTTP status derived from Code.
	Status int
}

func (e *RequestError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Text)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Locator, e.Text)
}

// Unwrap returns ErrRequest.
func (e *RequestError) Unwrap() error {
	return ErrRequest
}

// HTTPStatus is the response status of the report.
func (e *RequestError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case CodeMissingParameterValue, CodeInvalidParameterValue:
		return http.StatusBadRequest
	case CodeOperationNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (e *RequestError) report() exceptionReport {
	return exceptionReport{
		OWS:     nsOWS,
		Version: wpsVersion,
		Lang:    "en-US",
		exceptionsElem: exceptionsElem{Exceptions: []exceptionElem{{
			Code:    e.Code,
			Locator: e.Locator,
			Text:    e.Text,
		}}},
	}
}

func missingParameter(name string) *RequestError {
	return &RequestError{Code: CodeMissingParameterValue, Locator: name, Text: "missing parameter " + name}
}

func invalidParameter(name, format string, args ...any) *RequestError {
	return &RequestError{Code: CodeInvalidParameterValue, Locator: name, Text: fmt.Sprintf(format, args...)}
}

// asRequestError maps binding and internal failures to exception codes.
func asRequestError(err error) *RequestError {
	var re *RequestError
	if errors.As(err, &re) {
		return re
	}
	var ie *process.InputError
	if errors.As(err, &ie) {
		code := CodeInvalidParameterValue
		if errors.Is(err, process.ErrMissingInput) {
			code = CodeMissingParameterValue
		}
		return &RequestError{Code: code, Locator: ie.Locator, Text: ie.Error()}
	}
	return &RequestError{Code: CodeNoApplicableCode, Text: err.Error()}
}
