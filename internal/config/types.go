// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// RuntimeNative runs ESMValTool directly on the host.
	RuntimeNative RuntimeMode = "native"
	// RuntimeVirtual runs the command template through the embedded shell interpreter.
	RuntimeVirtual RuntimeMode = "virtual"
	// RuntimeContainer runs ESMValTool inside a container image.
	RuntimeContainer RuntimeMode = "container"

	// ContainerEngineDocker uses the docker CLI.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman uses the podman CLI.
	ContainerEnginePodman ContainerEngine = "podman"

	// LogFormatText is the human readable formatter.
	LogFormatText LogFormat = "text"
	// LogFormatJSON emits one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt emits logfmt key=value pairs.
	LogFormatLogfmt LogFormat = "logfmt"
)

var (
	// ErrInvalidRuntimeMode is returned when a RuntimeMode value is not recognized.
	ErrInvalidRuntimeMode = errors.New("invalid runtime mode")
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// RuntimeMode selects how ESMValTool is launched.
	RuntimeMode string

	// ContainerEngine selects the container CLI for the container runtime.
	ContainerEngine string

	// LogFormat selects the log formatter.
	LogFormat string

	// InvalidValueError reports an unrecognized enum value.
	// It wraps the sentinel of the offending type.
	InvalidValueError struct {
		Field    string
		Value    string
		sentinel error
	}

	// InvalidConfigError collects field-level validation failures.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the root configuration.
	Config struct {
		Server     ServerConfig     `json:"server"     mapstructure:"server"`
		Data       DataConfig       `json:"data"       mapstructure:"data"`
		ESMValTool ESMValToolConfig `json:"esmvaltool" mapstructure:"esmvaltool"`
		Jobs       JobsConfig       `json:"jobs"       mapstructure:"jobs"`
		Log        LogConfig        `json:"log"        mapstructure:"log"`
	}

	// ServerConfig configures the WPS HTTP listener.
	ServerConfig struct {
		Host string `json:"host" mapstructure:"host"`
		Port int    `json:"port" mapstructure:"port"`
		// URL is the externally visible base URL used in status and output
		// locations. Empty means http://host:port.
		URL             string        `json:"url"               mapstructure:"url"`
		MaxParallelJobs int           `json:"max_parallel_jobs" mapstructure:"max_parallel_jobs"`
		ShutdownTimeout time.Duration `json:"shutdown_timeout"  mapstructure:"shutdown_timeout"`
	}

	// DataConfig locates the CMIP5 archive and the DataFinder cache.
	DataConfig struct {
		ArchiveRoot   string        `json:"archive_root"   mapstructure:"archive_root"`
		ObsRoot       string        `json:"obs_root"       mapstructure:"obs_root"`
		CacheFile     string        `json:"cache_file"     mapstructure:"cache_file"`
		Levels        []string      `json:"levels"         mapstructure:"levels"`
		Watch         bool          `json:"watch"          mapstructure:"watch"`
		WatchDebounce time.Duration `json:"watch_debounce" mapstructure:"watch_debounce"`
		WatchIgnore   []string      `json:"watch_ignore"   mapstructure:"watch_ignore"`
	}

	// ESMValToolConfig configures how the toolkit is invoked.
	ESMValToolConfig struct {
		Runtime         RuntimeMode     `json:"runtime"            mapstructure:"runtime"`
		Command         string          `json:"command"            mapstructure:"command"`
		Image           string          `json:"image"              mapstructure:"image"`
		ContainerEngine ContainerEngine `json:"container_engine"   mapstructure:"container_engine"`
		EnvFile         string          `json:"env_file"           mapstructure:"env_file"`
		LogLevel        string          `json:"log_level"          mapstructure:"log_level"`
		OutputFileType  string          `json:"output_file_type"   mapstructure:"output_file_type"`
		MaxParallelTask int             `json:"max_parallel_tasks" mapstructure:"max_parallel_tasks"`
		// CatalogFile replaces the embedded process catalog when set.
		CatalogFile string `json:"catalog_file" mapstructure:"catalog_file"`
	}

	// JobsConfig configures job working directories and persistence.
	JobsConfig struct {
		Workdir string `json:"workdir" mapstructure:"workdir"`
		// Database is the SQLite file for job records. Empty keeps records in memory.
		Database string `json:"database" mapstructure:"database"`
	}

	// LogConfig configures the process-wide logger.
	LogConfig struct {
		Level  string    `json:"level"  mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}
)

// DefaultLevels is the CMIP5 DRS directory layout below the archive root.
func DefaultLevels() []string {
	return []string{"organization", "model", "experiment", "frequency", "mip", "realm", "ensemble", "version", "variable"}
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            5000,
			MaxParallelJobs: 4,
			ShutdownTimeout: 30 * time.Second,
		},
		Data: DataConfig{
			Levels:        DefaultLevels(),
			WatchDebounce: 2 * time.Second,
		},
		ESMValTool: ESMValToolConfig{
			Runtime:         RuntimeNative,
			Command:         "esmvaltool -c $CONFIG_FILE $RECIPE_FILE",
			Image:           "esmvalgroup/esmvaltool:latest",
			ContainerEngine: ContainerEngineDocker,
			LogLevel:        "info",
			OutputFileType:  "png",
			MaxParallelTask: 1,
		},
		Jobs: JobsConfig{
			Workdir: "/tmp/magicwps/jobs",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// BaseURL returns the externally visible server URL without a trailing slash.
func (s ServerConfig) BaseURL() string {
	if s.URL != "" {
		return strings.TrimRight(s.URL, "/")
	}
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Validate reports whether m is a known runtime mode.
func (m RuntimeMode) Validate() error {
	switch m {
	case RuntimeNative, RuntimeVirtual, RuntimeContainer:
		return nil
	default:
		return &InvalidValueError{Field: "esmvaltool.runtime", Value: string(m), sentinel: ErrInvalidRuntimeMode}
	}
}

// Validate reports whether e is a known container engine.
func (e ContainerEngine) Validate() error {
	switch e {
	case ContainerEngineDocker, ContainerEnginePodman:
		return nil
	default:
		return &InvalidValueError{Field: "esmvaltool.container_engine", Value: string(e), sentinel: ErrInvalidContainerEngine}
	}
}

// Validate reports whether f is a known log format.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return nil
	default:
		return &InvalidValueError{Field: "log.format", Value: string(f), sentinel: ErrInvalidLogFormat}
	}
}

// Validate checks the constraints that survive env overrides, which bypass
// the CUE schema.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ESMValTool.Runtime.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ESMValTool.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if c.Server.MaxParallelJobs < 1 {
		errs = append(errs, fmt.Errorf("server.max_parallel_jobs: must be at least 1, got %d", c.Server.MaxParallelJobs))
	}
	if c.Jobs.Workdir == "" {
		errs = append(errs, errors.New("jobs.workdir: must not be empty"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %s %q", e.Field, e.sentinel, e.Value)
}

func (e *InvalidValueError) Unwrap() error { return e.sentinel }

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("%s: %v", ErrInvalidConfig, e.FieldErrors[0])
	}
	return fmt.Sprintf("%s: %d field errors", ErrInvalidConfig, len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
