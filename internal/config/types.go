// Package config provides shared configuration types for stardialect.
// It is decoupled from CLI concerns so that tools embedding the importer can
// load project configuration too.
package config

import (
	starctx "github.com/leapstack-labs/stardialect/internal/starlark"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DialectOptions holds the Starlark language options modules are parsed with.
type DialectOptions struct {
	TopLevelControl bool `koanf:"top_level_control"`
	GlobalReassign  bool `koanf:"global_reassign"`
	While           bool `koanf:"while"`
	Set             bool `koanf:"set"`
	Recursion       bool `koanf:"recursion"`
}

// FileOptions converts the options for the Starlark parser.
func (o DialectOptions) FileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		TopLevelControl: o.TopLevelControl,
		GlobalReassign:  o.GlobalReassign,
		While:           o.While,
		Set:             o.Set,
		Recursion:       o.Recursion,
	}
}

// ProjectConfig holds the configuration of a stardialect project.
type ProjectConfig struct {
	// SearchPath lists the directories modules are imported from.
	SearchPath []string `koanf:"search_path"`

	// MacrosDir is the directory listed by the macros command.
	MacrosDir string `koanf:"macros_dir"`

	// Macros enables second-stage macro expansion.
	Macros bool `koanf:"macros"`

	// QuietMisses lists module names whose failed lookups are not logged.
	QuietMisses []string `koanf:"quiet_misses"`

	// Globals are predeclared in every module.
	Globals map[string]any `koanf:"globals"`

	Dialect DialectOptions `koanf:"dialect"`
}

// Predeclared returns the globals of every module: host and the configured
// Globals converted to Starlark.
func (c *ProjectConfig) Predeclared(host *starctx.HostInfo) (starlark.StringDict, error) {
	return starctx.Predeclared(host, c.Globals)
}
