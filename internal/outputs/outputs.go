// SPDX-License-Identifier: MPL-2.0

package outputs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/c3s-magic/magicwps/internal/logging"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/exp/slices"
)

// ArchiveName is the file name of the packed diagnostic result.
const ArchiveName = "diagnostic_result.zip"

var (
	// ErrNotFound is returned when no file matches an output pattern.
	ErrNotFound = errors.New("no output file found")
	// ErrEmptyNetCDF is returned for NetCDF files without variables.
	ErrEmptyNetCDF = errors.New("netcdf file has no variables")
)

// NotFoundError reports the pattern that matched nothing.
type NotFoundError struct {
	Pattern string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.Pattern)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Get returns the file matching <dir>/<pathFilter>/<nameFilter>.<format>.
// Filters may use doublestar patterns; an empty name filter matches any name.
// When several files match, the first in lexical order wins.
func Get(dir, pathFilter, nameFilter, format string) (string, error) {
	if nameFilter == "" {
		nameFilter = "*"
	}
	name := nameFilter
	if format != "" {
		name += "." + strings.TrimPrefix(format, ".")
	}
	pattern := filepath.Join(dir, pathFilter, name)

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", &NotFoundError{Pattern: pattern}
	}
	slices.Sort(matches)
	if len(matches) > 1 {
		logging.For("outputs").Warn("more than one output matches, using the first",
			"pattern", pattern, "matches", len(matches), "using", matches[0])
	}
	return matches[0], nil
}

// Compress writes every file below outputDir into a deflate zip at archive.
// Entry names are relative to outputDir. With excludePreproc, paths that
// contain "preproc" are skipped.
func Compress(outputDir, archive string, excludePreproc bool) (err error) {
	absArchive, err := filepath.Abs(archive)
	if err != nil {
		return fmt.Errorf("failed to resolve archive path: %w", err)
	}

	f, err := os.Create(absArchive)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	zw := zip.NewWriter(f)
	defer func() {
		if cerr := zw.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to finish archive: %w", cerr)
		}
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(absArchive)
		}
	}()

	err = filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		if excludePreproc && strings.Contains(rel, "preproc") {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && abs == absArchive {
			return nil
		}
		return addFile(zw, path, filepath.ToSlash(rel), d)
	})
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", outputDir, err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create file header: %w", err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// CheckNetCDF opens path and requires at least one variable.
func CheckNetCDF(path string) error {
	nc, err := netcdf.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open netcdf %s: %w", path, err)
	}
	defer nc.Close()

	if len(nc.ListVariables()) == 0 {
		return fmt.Errorf("%s: %w", path, ErrEmptyNetCDF)
	}
	return nil
}
