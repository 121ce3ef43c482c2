// SPDX-License-Identifier: MPL-2.0

// Package logging configures the process-wide charmbracelet/log logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/c3s-magic/magicwps/internal/config"

	"github.com/charmbracelet/log"
)

// Setup builds a logger from cfg, installs it as the default and returns it.
// A nil writer logs to stderr.
func Setup(w io.Writer, cfg config.LogConfig) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	formatter, err := formatterFor(cfg.Format)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	})
	log.SetDefault(logger)
	return logger, nil
}

// For returns the default logger with a component prefix.
func For(component string) *log.Logger {
	return log.Default().WithPrefix(component)
}

func formatterFor(f config.LogFormat) (log.Formatter, error) {
	switch f {
	case "", config.LogFormatText:
		return log.TextFormatter, nil
	case config.LogFormatJSON:
		return log.JSONFormatter, nil
	case config.LogFormatLogfmt:
		return log.LogfmtFormatter, nil
	default:
		return 0, f.Validate()
	}
}
