// SPDX-License-Identifier: MPL-2.0

package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/logging"
	"github.com/c3s-magic/magicwps/internal/recipe"
	"github.com/c3s-magic/magicwps/internal/runner"

	"github.com/charmbracelet/log"
)

// Status messages, in the order a diagnostic reports them.
const (
	MsgStarting   = "starting ..."
	MsgGenerate   = "generate recipe ..."
	MsgRunning    = "running diagnostic ..."
	MsgCollecting = "collecting output ..."
	MsgArchiving  = "creating archive of diagnostic result ..."
	MsgDone       = "done."
	MsgWaiting    = "waiting ..."

	// exceptionPrefix keeps the wording clients already match on.
	exceptionPrefix = "exception occured: "
)

var (
	// ErrToolkitFailed is the sentinel wrapped by ToolkitError.
	ErrToolkitFailed = errors.New("toolkit failed")
	// ErrUnknownKind is returned for processes no handler serves.
	ErrUnknownKind = errors.New("unknown process kind")
)

type (
	// Reporter receives progress updates.
	Reporter interface {
		Update(percent int, message string)
	}

	// ReporterFunc adapts a function to Reporter.
	ReporterFunc func(percent int, message string)

	// Value is one produced output. File is set for reference outputs and
	// Data for literal ones.
	Value struct {
		Output catalog.Output
		File   string
		Data   string
	}

	// Request is one execution of a bound process.
	Request struct {
		Process *catalog.Process
		// Inputs are the values returned by Binder.Bind.
		Inputs  map[string][]string
		Workdir string
		// Reporter may be nil.
		Reporter Reporter
	}

	// ToolkitError reports a failed toolkit run. The outputs gathered before
	// the failure are still returned alongside it.
	ToolkitError struct {
		Exception string
	}

	// Executor runs bound processes.
	Executor struct {
		Catalog *catalog.Catalog
		Data    DataSource
		Runtime runner.Runtime
		Recipe  recipe.Options
		// Logger defaults to the "process" prefixed default logger.
		Logger *log.Logger
	}

	// outputSet accumulates values by output identifier.
	outputSet struct {
		p      *catalog.Process
		values map[string]Value
	}
)

// Update calls f.
func (f ReporterFunc) Update(percent int, message string) {
	f(percent, message)
}

func (e *ToolkitError) Error() string {
	return exceptionPrefix + e.Exception
}

// Unwrap returns ErrToolkitFailed.
func (e *ToolkitError) Unwrap() error {
	return ErrToolkitFailed
}

// ExceptionMessage formats a failure the way status documents report it.
func ExceptionMessage(err error) string {
	var te *ToolkitError
	if errors.As(err, &te) {
		return te.Error()
	}
	return exceptionPrefix + err.Error()
}

// Execute runs req and returns its outputs in declaration order.
func (e *Executor) Execute(ctx context.Context, req Request) ([]Value, error) {
	if req.Reporter == nil {
		req.Reporter = ReporterFunc(func(int, string) {})
	}
	logger := e.logger().With("process", req.Process.Identifier)

	out := &outputSet{p: req.Process, values: map[string]Value{}}
	var err error
	switch req.Process.Kind {
	case catalog.KindDiagnostic:
		err = e.diagnostic(ctx, req, out, logger)
	case catalog.KindSleep:
		err = e.sleep(ctx, req, out)
	case catalog.KindMeta:
		err = e.meta(req, out)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownKind, req.Process.Kind)
	}
	if err != nil {
		logger.Warn("process failed", "error", err)
	}
	return out.list(), err
}

func (e *Executor) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.For("process")
}

func (s *outputSet) file(id, path string) {
	if o, ok := s.output(id); ok && path != "" {
		s.values[id] = Value{Output: o, File: path}
	}
}

func (s *outputSet) literal(id, data string) {
	if o, ok := s.output(id); ok {
		s.values[id] = Value{Output: o, Data: data}
	}
}

func (s *outputSet) output(id string) (catalog.Output, bool) {
	for _, o := range s.p.Outputs() {
		if o.Identifier == id {
			return o, true
		}
	}
	return catalog.Output{}, false
}

func (s *outputSet) list() []Value {
	var out []Value
	for _, o := range s.p.Outputs() {
		if v, ok := s.values[o.Identifier]; ok {
			out = append(out, v)
		}
	}
	return out
}

// single returns the first value of every input, for path expansion.
func single(p *catalog.Process, inputs map[string][]string) map[string]string {
	out := make(map[string]string, len(inputs)+2)
	for id, vs := range inputs {
		if len(vs) > 0 {
			out[id] = vs[0]
		}
	}
	if p.Recipe != nil {
		out["diagnostic"] = p.Recipe.Diagnostic
		out["script"] = p.Recipe.Script
	}
	return out
}
