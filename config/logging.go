package config

import (
	"errors"
	"fmt"
	"strings"
)

// LoggingConfig sets the minimum log level and the output format.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level"`
	// Format is auto, json or console. auto follows APP_ENV.
	Format string `json:"format"`
}

// SetDefaults applies the info level and automatic format.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "auto"
	}
}

// Validate checks the level and format names.
func (c LoggingConfig) Validate() error {
	var errs []error
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Level))
	}
	switch strings.ToLower(c.Format) {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Format))
	}
	return errors.Join(errs...)
}
