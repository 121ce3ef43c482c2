// SPDX-License-Identifier: MPL-2.0

package catalog

const (
	// KindDiagnostic runs ESMValTool.
	KindDiagnostic Kind = "diagnostic"
	// KindSleep waits for a delay; used to exercise async jobs.
	KindSleep Kind = "sleep"
	// KindMeta reports the data available to another process.
	KindMeta Kind = "meta"

	TypeString  LiteralType = "string"
	TypeInteger LiteralType = "integer"
	TypeFloat   LiteralType = "float"
	TypeBoolean LiteralType = "boolean"

	// OutputReference outputs are files served by URL.
	OutputReference OutputKind = "reference"
	// OutputLiteral outputs carry their value inline.
	OutputLiteral OutputKind = "literal"

	AxisModel      = "model"
	AxisExperiment = "experiment"
	AxisEnsemble   = "ensemble"

	// YearsSpan makes a dataset group cover every year range.
	YearsSpan = "span"

	// NullValue is accepted by options that list it and exports as null.
	NullValue = "null"
)

type (
	// Kind selects the handler of a process.
	Kind string

	// LiteralType is the data type of a literal input.
	LiteralType string

	// OutputKind distinguishes file outputs from inline values.
	OutputKind string

	// Link is a metadata entry. Either Href or Text is set.
	Link struct {
		Title string `json:"title"`
		Href  string `json:"href,omitempty"`
		Role  string `json:"role,omitempty"`
		Text  string `json:"text,omitempty"`
	}

	// DatasetGroup declares one set of model/experiment/ensemble inputs.
	DatasetGroup struct {
		Name        string   `json:"name"`
		Inputs      []string `json:"inputs"`
		Models      []string `json:"models"`
		Experiments []string `json:"experiments"`
		Ensembles   []string `json:"ensembles"`
		MinOccurs   int      `json:"min_occurs"`
		MaxOccurs   int      `json:"max_occurs"`
		Filter      bool     `json:"filter"`
		Years       string   `json:"years"`
	}

	// YearRange declares a start/end year input pair.
	YearRange struct {
		Name         string `json:"name"`
		Min          int    `json:"min"`
		Max          int    `json:"max"`
		DefaultStart int    `json:"default_start"`
		DefaultEnd   int    `json:"default_end"`
	}

	// Option is a diagnostic parameter exported to the script settings.
	Option struct {
		Identifier string            `json:"identifier"`
		Title      string            `json:"title"`
		Abstract   string            `json:"abstract"`
		Type       LiteralType       `json:"type"`
		Default    string            `json:"default"`
		Allowed    []string          `json:"allowed"`
		Min        *float64          `json:"min,omitempty"`
		Max        *float64          `json:"max,omitempty"`
		Setting    string            `json:"setting"`
		Map        map[string]string `json:"map"`
	}

	// Variable is one recipe variable.
	Variable struct {
		ShortName        string `json:"short_name"                  yaml:"short_name"`
		Mip              string `json:"mip"                         yaml:"mip"`
		Preprocessor     string `json:"preprocessor,omitempty"      yaml:"preprocessor,omitempty"`
		ReferenceDataset string `json:"reference_dataset,omitempty" yaml:"reference_dataset,omitempty"`
		StartYear        int    `json:"start_year,omitempty"        yaml:"start_year,omitempty"`
		EndYear          int    `json:"end_year,omitempty"          yaml:"end_year,omitempty"`
	}

	// Reference is the observational dataset compared against.
	Reference struct {
		Option  string `json:"option,omitempty"`
		Dataset string `json:"dataset,omitempty"`
		Project string `json:"project"`
		Type    string `json:"type"`
		Version string `json:"version"`
		Tier    int    `json:"tier"`
	}

	// StaticDataset is a dataset the recipe always includes.
	StaticDataset struct {
		Dataset   string `json:"dataset"              yaml:"dataset"`
		Project   string `json:"project"              yaml:"project"`
		Exp       string `json:"exp,omitempty"        yaml:"exp,omitempty"`
		Ensemble  string `json:"ensemble,omitempty"   yaml:"ensemble,omitempty"`
		Mip       string `json:"mip,omitempty"        yaml:"mip,omitempty"`
		Type      string `json:"type,omitempty"       yaml:"type,omitempty"`
		Version   string `json:"version,omitempty"    yaml:"version,omitempty"`
		Tier      int    `json:"tier,omitempty"       yaml:"tier,omitempty"`
		StartYear int    `json:"start_year,omitempty" yaml:"start_year,omitempty"`
		EndYear   int    `json:"end_year,omitempty"   yaml:"end_year,omitempty"`
	}

	// Recipe describes the ESMValTool recipe of a diagnostic process.
	Recipe struct {
		Diagnostic    string            `json:"diagnostic"`
		Script        string            `json:"script"`
		ScriptPath    string            `json:"script_path"`
		ExtraScripts  map[string]string `json:"extra_scripts"`
		Description   string            `json:"description"`
		OutputFormat  string            `json:"output_format,omitempty"`
		Variables     []Variable        `json:"variables"`
		Preprocessors map[string]any    `json:"preprocessors"`
		Settings      map[string]any    `json:"settings"`
		Reference     *Reference        `json:"reference,omitempty"`
		Datasets      []StaticDataset   `json:"datasets"`
	}

	// Output declares one process output.
	Output struct {
		Identifier string     `json:"identifier"`
		Title      string     `json:"title"`
		Abstract   string     `json:"abstract"`
		Kind       OutputKind `json:"kind"`
		Dir        string     `json:"dir"`
		Path       string     `json:"path"`
		Pattern    string     `json:"pattern"`
		Format     string     `json:"format"`
	}

	// Process is one catalog entry.
	Process struct {
		Identifier    string         `json:"identifier"`
		Title         string         `json:"title"`
		Abstract      string         `json:"abstract"`
		Version       string         `json:"version"`
		Kind          Kind           `json:"kind"`
		EstimatedTime string         `json:"estimated_time"`
		Metadata      []Link         `json:"metadata"`
		Variables     []string       `json:"variables"`
		Frequency     string         `json:"frequency"`
		Datasets      []DatasetGroup `json:"datasets"`
		Years         []YearRange    `json:"years"`
		Options       []Option       `json:"options"`
		Recipe        *Recipe        `json:"recipe,omitempty"`
		Declared      []Output       `json:"outputs"`
		Archive       bool           `json:"archive"`
	}
)

// InputID returns the identifier of the group's input for axis, e.g.
// "model" or "model_historical".
func (g DatasetGroup) InputID(axis string) string {
	if g.Name == "" {
		return axis
	}
	return axis + "_" + g.Name
}

// HasInput reports whether axis is exposed as an input.
func (g DatasetGroup) HasInput(axis string) bool {
	for _, a := range g.Inputs {
		if a == axis {
			return true
		}
	}
	return false
}

// Defaults returns the declared default values for axis.
func (g DatasetGroup) Defaults(axis string) []string {
	switch axis {
	case AxisModel:
		return g.Models
	case AxisExperiment:
		return g.Experiments
	case AxisEnsemble:
		return g.Ensembles
	default:
		return nil
	}
}

// StartID returns the start input identifier: start_year or start_<name>.
func (y YearRange) StartID() string {
	if y.Name == "" {
		return "start_year"
	}
	return "start_" + y.Name
}

// EndID returns the end input identifier: end_year or end_<name>.
func (y YearRange) EndID() string {
	if y.Name == "" {
		return "end_year"
	}
	return "end_" + y.Name
}
