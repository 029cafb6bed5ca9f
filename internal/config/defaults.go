package config

// Default configuration values.
const (
	DefaultSearchPath = "."
	DefaultMacrosDir  = "macros"
	DefaultQuietMiss  = "__lang__"
)

// DefaultDialectOptions returns the language options used when none are
// configured. Top-level control flow must stay enabled for tree dialects
// that wrap the module body in a conditional.
func DefaultDialectOptions() DialectOptions {
	return DialectOptions{
		TopLevelControl: true,
		GlobalReassign:  true,
		While:           true,
		Set:             true,
		Recursion:       true,
	}
}

// ApplyDefaults fills unset fields of c.
func (c *ProjectConfig) ApplyDefaults() {
	if c == nil {
		return
	}
	if len(c.SearchPath) == 0 {
		c.SearchPath = []string{DefaultSearchPath}
	}
	if c.MacrosDir == "" {
		c.MacrosDir = DefaultMacrosDir
	}
	if c.QuietMisses == nil {
		c.QuietMisses = []string{DefaultQuietMiss}
	}
}
