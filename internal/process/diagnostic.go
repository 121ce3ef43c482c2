// SPDX-License-Identifier: MPL-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/outputs"
	"github.com/c3s-magic/magicwps/internal/recipe"
	"github.com/c3s-magic/magicwps/internal/runner"

	"github.com/charmbracelet/log"
)

// ErrNoRuntime is returned when a diagnostic runs without a runtime.
var ErrNoRuntime = errors.New("no toolkit runtime configured")

func (e *Executor) diagnostic(ctx context.Context, req Request, out *outputSet, logger *log.Logger) error {
	rep := req.Reporter
	rep.Update(0, MsgStarting)
	if e.Runtime == nil {
		return ErrNoRuntime
	}

	rep.Update(10, MsgGenerate)
	files, err := recipe.Generate(recipe.Request{
		Workdir: req.Workdir,
		Process: req.Process,
		Values:  req.Inputs,
		Options: e.Recipe,
	})
	if err != nil {
		return fmt.Errorf("generate recipe: %w", err)
	}
	out.file(catalog.OutputRecipe, files.RecipeFile)

	rep.Update(20, MsgRunning)
	res := e.Runtime.Run(ctx, runner.Invocation{
		Workdir:    req.Workdir,
		ConfigFile: files.ConfigFile,
		RecipeFile: files.RecipeFile,
		OutputDir:  files.OutputDir,
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	out.literal(catalog.OutputSuccess, strconv.FormatBool(res.Success))
	out.file(catalog.OutputLog, existing(res.LogFile))
	out.file(catalog.OutputDebugLog, existing(res.DebugLogFile))

	var runErr error
	if res.Success {
		rep.Update(80, MsgCollecting)
		if err := collect(req, res, out); err != nil {
			logger.Warn("output collection incomplete", "error", err)
			rep.Update(85, exceptionPrefix+err.Error())
		}
	} else {
		runErr = &ToolkitError{Exception: res.Exception}
		logger.Error("esmvaltool failed", "exception", res.Exception)
		rep.Update(85, runErr.Error())
	}

	if req.Process.Archive {
		rep.Update(90, MsgArchiving)
		archive := filepath.Join(req.Workdir, outputs.ArchiveName)
		if err := outputs.Compress(files.OutputDir, archive, true); err != nil {
			logger.Warn("archive failed", "error", err)
		} else {
			out.file(catalog.OutputArchive, archive)
		}
	}

	if runErr != nil {
		return runErr
	}
	rep.Update(100, MsgDone)
	return nil
}

// collect resolves every declared file output. Failures are joined and the
// remaining outputs are still collected.
func collect(req Request, res runner.Result, out *outputSet) error {
	p := req.Process
	values := single(p, req.Inputs)

	var errs []error
	for _, o := range p.Declared {
		if o.Kind != catalog.OutputReference {
			continue
		}
		dir := res.PlotDir
		if o.Dir == "work" {
			dir = res.WorkDir
		}
		path := o.Path
		if path == "" {
			path = p.ScriptDir()
		}

		file, err := outputs.Get(dir,
			catalog.ExpandPath(path, values),
			catalog.ExpandPath(o.Pattern, values),
			o.Format)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Identifier, err))
			continue
		}
		if o.Format == "nc" {
			if err := outputs.CheckNetCDF(file); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", o.Identifier, err))
				continue
			}
		}
		out.file(o.Identifier, file)
	}
	return errors.Join(errs...)
}

func existing(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
