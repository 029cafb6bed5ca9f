// Package config provides configuration management for the stardialect CLI.
//
// The CLI configuration embeds the shared project configuration of
// internal/config and adds output and logging settings.
package config

import (
	sharedcfg "github.com/leapstack-labs/stardialect/internal/config"
)

// ProjectConfig is an alias for the shared project configuration.
type ProjectConfig = sharedcfg.ProjectConfig

// DialectOptions is an alias for the shared language options.
type DialectOptions = sharedcfg.DialectOptions

// Config holds all CLI configuration options.
type Config struct {
	ProjectConfig `koanf:",squash"`

	LogLevel     string `koanf:"log_level"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// Output formats.
const (
	OutputAuto = "auto"
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Default configuration values.
const (
	DefaultMacrosDir = sharedcfg.DefaultMacrosDir
	DefaultLogLevel  = "warn"
	DefaultOutput    = OutputAuto
)

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	cfg := &Config{
		ProjectConfig: ProjectConfig{
			Macros:  true,
			Dialect: sharedcfg.DefaultDialectOptions(),
		},
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutput,
	}
	cfg.ApplyDefaults()
	return cfg
}
