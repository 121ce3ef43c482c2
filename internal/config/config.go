// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "magicwps"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the preferred config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. MAGICWPS_SERVER_PORT.
	EnvPrefix = "MAGICWPS"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns $XDG_CONFIG_HOME/magicwps, defaulting to ~/.config/magicwps.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions resolves the config file, merges it over the defaults and
// applies environment overrides. It returns the path that was loaded, or ""
// when only defaults and environment were used.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}

	if resolvedPath != "" {
		if err := loadFileIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE or TOML syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'magicwps config show' to see the effective configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check MAGICWPS_* environment variables for typos").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// resolvePath picks the config file. An explicit path must exist; otherwise
// the config directory and then the working directory are searched, with
// config.cue preferred over config.toml. No file at all is not an error.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'magicwps config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dirs := []string{}
	if opts.ConfigDirPath != "" {
		dirs = append(dirs, opts.ConfigDirPath)
	} else {
		cfgDir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		dirs = append(dirs, cfgDir)
	}
	if opts.BaseDir != "" {
		dirs = append(dirs, opts.BaseDir)
	} else {
		dirs = append(dirs, ".")
	}

	for _, dir := range dirs {
		for _, ext := range []string{ConfigFileExt, "toml"} {
			p := filepath.Join(dir, ConfigFileName+"."+ext)
			if fileExists(p) {
				return p, nil
			}
		}
	}
	return "", nil
}

// setDefaults registers every key with Viper. AutomaticEnv only consults keys
// Viper already knows, so each leaf needs a default.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.max_parallel_jobs", d.Server.MaxParallelJobs)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("data.archive_root", d.Data.ArchiveRoot)
	v.SetDefault("data.obs_root", d.Data.ObsRoot)
	v.SetDefault("data.cache_file", d.Data.CacheFile)
	v.SetDefault("data.levels", d.Data.Levels)
	v.SetDefault("data.watch", d.Data.Watch)
	v.SetDefault("data.watch_debounce", d.Data.WatchDebounce)
	v.SetDefault("data.watch_ignore", d.Data.WatchIgnore)

	v.SetDefault("esmvaltool.runtime", string(d.ESMValTool.Runtime))
	v.SetDefault("esmvaltool.command", d.ESMValTool.Command)
	v.SetDefault("esmvaltool.image", d.ESMValTool.Image)
	v.SetDefault("esmvaltool.container_engine", string(d.ESMValTool.ContainerEngine))
	v.SetDefault("esmvaltool.env_file", d.ESMValTool.EnvFile)
	v.SetDefault("esmvaltool.log_level", d.ESMValTool.LogLevel)
	v.SetDefault("esmvaltool.output_file_type", d.ESMValTool.OutputFileType)
	v.SetDefault("esmvaltool.max_parallel_tasks", d.ESMValTool.MaxParallelTask)
	v.SetDefault("esmvaltool.catalog_file", d.ESMValTool.CatalogFile)

	v.SetDefault("jobs.workdir", d.Jobs.Workdir)
	v.SetDefault("jobs.database", d.Jobs.Database)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", string(d.Log.Format))
}

// loadFileIntoViper validates the file against #Config and merges it into v.
//
// The schema is applied non-concretely because every field is optional. The
// result is decoded to a map rather than a struct so Viper keeps ownership of
// defaults and environment precedence.
func loadFileIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	opts := []cueutil.Option{cueutil.WithFilename(path), cueutil.WithConcrete(false)}

	var result *cueutil.ParseResult[map[string]any]
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
			return err
		}
		var raw map[string]any
		if err := toml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		result, err = cueutil.ValidateValue[map[string]any](configSchema, raw, "#Config", opts...)
	} else {
		result, err = cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config", opts...)
	}
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*result.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config.cue into dir unless one exists.
// It returns the path of the file.
func CreateDefaultConfig(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// magicwps configuration file\n\n")

	sb.WriteString("server: {\n")
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.Server.Host)
	fmt.Fprintf(&sb, "\tport: %d\n", cfg.Server.Port)
	if cfg.Server.URL != "" {
		fmt.Fprintf(&sb, "\turl: %q\n", cfg.Server.URL)
	}
	fmt.Fprintf(&sb, "\tmax_parallel_jobs: %d\n", cfg.Server.MaxParallelJobs)
	fmt.Fprintf(&sb, "\tshutdown_timeout: %q\n", cfg.Server.ShutdownTimeout.String())
	sb.WriteString("}\n")

	sb.WriteString("\ndata: {\n")
	fmt.Fprintf(&sb, "\tarchive_root: %q\n", cfg.Data.ArchiveRoot)
	fmt.Fprintf(&sb, "\tobs_root: %q\n", cfg.Data.ObsRoot)
	fmt.Fprintf(&sb, "\tcache_file: %q\n", cfg.Data.CacheFile)
	fmt.Fprintf(&sb, "\tlevels: %s\n", cueList(cfg.Data.Levels))
	fmt.Fprintf(&sb, "\twatch: %v\n", cfg.Data.Watch)
	fmt.Fprintf(&sb, "\twatch_debounce: %q\n", cfg.Data.WatchDebounce.String())
	if len(cfg.Data.WatchIgnore) > 0 {
		fmt.Fprintf(&sb, "\twatch_ignore: %s\n", cueList(cfg.Data.WatchIgnore))
	}
	sb.WriteString("}\n")

	sb.WriteString("\nesmvaltool: {\n")
	fmt.Fprintf(&sb, "\truntime: %q\n", cfg.ESMValTool.Runtime)
	fmt.Fprintf(&sb, "\tcommand: %q\n", cfg.ESMValTool.Command)
	fmt.Fprintf(&sb, "\timage: %q\n", cfg.ESMValTool.Image)
	fmt.Fprintf(&sb, "\tcontainer_engine: %q\n", cfg.ESMValTool.ContainerEngine)
	if cfg.ESMValTool.EnvFile != "" {
		fmt.Fprintf(&sb, "\tenv_file: %q\n", cfg.ESMValTool.EnvFile)
	}
	fmt.Fprintf(&sb, "\tlog_level: %q\n", cfg.ESMValTool.LogLevel)
	fmt.Fprintf(&sb, "\toutput_file_type: %q\n", cfg.ESMValTool.OutputFileType)
	fmt.Fprintf(&sb, "\tmax_parallel_tasks: %d\n", cfg.ESMValTool.MaxParallelTask)
	if cfg.ESMValTool.CatalogFile != "" {
		fmt.Fprintf(&sb, "\tcatalog_file: %q\n", cfg.ESMValTool.CatalogFile)
	}
	sb.WriteString("}\n")

	sb.WriteString("\njobs: {\n")
	fmt.Fprintf(&sb, "\tworkdir: %q\n", cfg.Jobs.Workdir)
	fmt.Fprintf(&sb, "\tdatabase: %q\n", cfg.Jobs.Database)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	return sb.String()
}

// GenerateTOML renders cfg as a config.toml document.
func GenerateTOML(cfg *Config) (string, error) {
	doc := map[string]any{
		"server": map[string]any{
			"host":              cfg.Server.Host,
			"port":              cfg.Server.Port,
			"url":               cfg.Server.URL,
			"max_parallel_jobs": cfg.Server.MaxParallelJobs,
			"shutdown_timeout":  cfg.Server.ShutdownTimeout.String(),
		},
		"data": map[string]any{
			"archive_root":   cfg.Data.ArchiveRoot,
			"obs_root":       cfg.Data.ObsRoot,
			"cache_file":     cfg.Data.CacheFile,
			"levels":         nonNil(cfg.Data.Levels),
			"watch":          cfg.Data.Watch,
			"watch_debounce": cfg.Data.WatchDebounce.String(),
			"watch_ignore":   nonNil(cfg.Data.WatchIgnore),
		},
		"esmvaltool": map[string]any{
			"runtime":            string(cfg.ESMValTool.Runtime),
			"command":            cfg.ESMValTool.Command,
			"image":              cfg.ESMValTool.Image,
			"container_engine":   string(cfg.ESMValTool.ContainerEngine),
			"env_file":           cfg.ESMValTool.EnvFile,
			"log_level":          cfg.ESMValTool.LogLevel,
			"output_file_type":   cfg.ESMValTool.OutputFileType,
			"max_parallel_tasks": cfg.ESMValTool.MaxParallelTask,
			"catalog_file":       cfg.ESMValTool.CatalogFile,
		},
		"jobs": map[string]any{
			"workdir":  cfg.Jobs.Workdir,
			"database": cfg.Jobs.Database,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": string(cfg.Log.Format),
		},
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode TOML: %w", err)
	}
	return string(out), nil
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
