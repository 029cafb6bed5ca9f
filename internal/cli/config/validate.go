package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case OutputAuto, OutputText, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("invalid output format %q (want auto, text, json or yaml)", c.OutputFormat)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if !c.Dialect.TopLevelControl {
		return fmt.Errorf("dialect.top_level_control must be enabled: tree dialects wrap module bodies in if statements")
	}
	return nil
}

// ValidateDirectories checks that every search path entry is a directory.
func (c *Config) ValidateDirectories() error {
	for _, dir := range c.SearchPath {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("search path entry %s: %w\nHint: use --search-path to list module directories", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("search path entry is not a directory: %s", dir)
		}
	}
	return nil
}

// ParseLevel converts a log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
