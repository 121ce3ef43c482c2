// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/pkg/cueutil"

	"golang.org/x/exp/slices"
)

const (
	// MetaProcess is the identifier of the meta process.
	MetaProcess = "meta"
	// MetaProcessOption is the meta input naming the queried process.
	MetaProcessOption = "process"
	// SleepDelayOption is the sleep input holding the delay in seconds.
	SleepDelayOption = "delay"

	// Built-in outputs of diagnostic processes.
	OutputSuccess  = "success"
	OutputRecipe   = "recipe"
	OutputLog      = "log"
	OutputDebugLog = "debug_log"
	OutputArchive  = "archive"

	builtinFilename = "processes.cue"
)

var (
	//go:embed catalog_schema.cue
	catalogSchema []byte

	//go:embed processes.cue
	builtinProcesses []byte

	// ErrInvalidCatalog is returned when a catalog passes the schema but
	// is inconsistent.
	ErrInvalidCatalog = errors.New("invalid process catalog")

	placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

	axisTitles = map[string]string{
		AxisModel:      "Model",
		AxisExperiment: "Experiment",
		AxisEnsemble:   "Ensemble",
	}

	mimeTypes = map[string]string{
		"png":  "image/png",
		"jpg":  "image/jpeg",
		"svg":  "image/svg+xml",
		"eps":  "application/postscript",
		"ps":   "application/postscript",
		"pdf":  "application/pdf",
		"nc":   "application/x-netcdf",
		"zip":  "application/zip",
		"txt":  "text/plain",
		"yml":  "text/plain",
		"log":  "text/plain",
		"json": "application/json",
		"xlsx": "application/vnd.ms-excel",
	}
)

type (
	// Catalog holds the process descriptions served by the WPS.
	Catalog struct {
		Entries []Process `json:"processes"`

		byID map[string]*Process
	}

	// InvalidCatalogError lists every consistency problem found.
	InvalidCatalogError struct {
		Problems []string
	}
)

// Error implements the error interface.
func (e *InvalidCatalogError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidCatalog, strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalidCatalog for errors.Is.
func (e *InvalidCatalogError) Unwrap() error {
	return ErrInvalidCatalog
}

// Load returns the built-in catalog.
func Load() (*Catalog, error) {
	return Parse(builtinProcesses, builtinFilename)
}

// LoadFile reads a catalog from a CUE file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read process catalog").
			WithResource(path).
			WithSuggestion("Check esmvaltool.catalog_file in the configuration").
			Wrap(err).
			BuildError()
	}
	return Parse(data, path)
}

// Parse validates data against the catalog schema and checks the result for
// consistency.
func Parse(data []byte, filename string) (*Catalog, error) {
	res, err := cueutil.ParseAndDecode[Catalog](catalogSchema, data, "#Catalog", cueutil.WithFilename(filename))
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("parse process catalog").
			WithResource(filename).
			Wrap(err).
			BuildError()
	}

	c := res.Value
	c.index()
	c.fillMetaProcess()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) index() {
	c.byID = make(map[string]*Process, len(c.Entries))
	for i := range c.Entries {
		p := &c.Entries[i]
		if _, dup := c.byID[p.Identifier]; !dup {
			c.byID[p.Identifier] = p
		}
	}
}

// fillMetaProcess offers every diagnostic process to the meta process unless
// the catalog lists them explicitly.
func (c *Catalog) fillMetaProcess() {
	ids := c.identifiersOf(KindDiagnostic)
	for i := range c.Entries {
		p := &c.Entries[i]
		if p.Kind != KindMeta {
			continue
		}
		for j := range p.Options {
			o := &p.Options[j]
			if o.Identifier == MetaProcessOption && len(o.Allowed) == 0 {
				o.Allowed = slices.Clone(ids)
			}
		}
	}
}

// Get returns the process with the given identifier.
func (c *Catalog) Get(id string) (*Process, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Identifiers returns all process identifiers, sorted.
func (c *Catalog) Identifiers() []string {
	ids := make([]string, 0, len(c.Entries))
	for _, p := range c.Entries {
		ids = append(ids, p.Identifier)
	}
	slices.Sort(ids)
	return ids
}

// Diagnostics returns the processes of kind diagnostic, sorted by identifier.
func (c *Catalog) Diagnostics() []*Process {
	var out []*Process
	for _, id := range c.identifiersOf(KindDiagnostic) {
		out = append(out, c.byID[id])
	}
	return out
}

// Processes returns all processes ordered by title.
func (c *Catalog) Processes() []*Process {
	out := make([]*Process, 0, len(c.Entries))
	for i := range c.Entries {
		out = append(out, &c.Entries[i])
	}
	slices.SortFunc(out, func(a, b *Process) int {
		if n := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); n != 0 {
			return n
		}
		return strings.Compare(a.Identifier, b.Identifier)
	})
	return out
}

func (c *Catalog) identifiersOf(kind Kind) []string {
	var ids []string
	for _, p := range c.Entries {
		if p.Kind == kind {
			ids = append(ids, p.Identifier)
		}
	}
	slices.Sort(ids)
	return ids
}

// MimeType maps a file extension to its MIME type. Unknown formats map to
// application/octet-stream.
func MimeType(format string) string {
	if m, ok := mimeTypes[strings.ToLower(strings.TrimPrefix(format, "."))]; ok {
		return m
	}
	return "application/octet-stream"
}

// ExpandPath substitutes {name} placeholders with values. Unknown
// placeholders are kept.
func ExpandPath(path string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(path, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Placeholders returns the placeholder names used in path, in order.
func Placeholders(path string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(path, -1) {
		names = append(names, m[1])
	}
	return names
}

// Check validates a submitted option value.
func (o Option) Check(raw string) error {
	if len(o.Allowed) > 0 {
		if !slices.Contains(o.Allowed, raw) {
			return fmt.Errorf("%q is not one of %s", raw, strings.Join(o.Allowed, ", "))
		}
		if raw == NullValue {
			return nil
		}
	} else if raw == NullValue {
		return fmt.Errorf("%q is not allowed", raw)
	}

	switch o.Type {
	case TypeInteger, TypeFloat:
		var (
			f   float64
			err error
		)
		if o.Type == TypeInteger {
			var n int
			n, err = strconv.Atoi(raw)
			f = float64(n)
		} else {
			f, err = strconv.ParseFloat(raw, 64)
		}
		if err != nil {
			return fmt.Errorf("%q is not a valid %s", raw, o.Type)
		}
		if o.Min != nil && f < *o.Min {
			return fmt.Errorf("%s is below the minimum %s", raw, formatFloat(*o.Min))
		}
		if o.Max != nil && f > *o.Max {
			return fmt.Errorf("%s is above the maximum %s", raw, formatFloat(*o.Max))
		}
	case TypeBoolean:
		if _, err := strconv.ParseBool(raw); err != nil {
			return fmt.Errorf("%q is not a valid boolean", raw)
		}
	case TypeString:
	}
	return nil
}

// Export converts a checked value to the type written into the recipe.
// Mapped values and strings stay strings, "null" becomes nil.
func (o Option) Export(raw string) (any, error) {
	if mapped, ok := o.Map[raw]; ok {
		return mapped, nil
	}
	if raw == NullValue {
		return nil, nil
	}
	switch o.Type {
	case TypeInteger:
		return strconv.Atoi(raw)
	case TypeFloat:
		return strconv.ParseFloat(raw, 64)
	case TypeBoolean:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
