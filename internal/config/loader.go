package config

import (
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "stardialect.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "stardialect.yml"

// DefaultsMap returns the default configuration as koanf keys.
func DefaultsMap() map[string]any {
	d := DefaultDialectOptions()
	return map[string]any{
		"search_path":               []string{DefaultSearchPath},
		"macros_dir":                DefaultMacrosDir,
		"macros":                    true,
		"quiet_misses":              []string{DefaultQuietMiss},
		"dialect.top_level_control": d.TopLevelControl,
		"dialect.global_reassign":   d.GlobalReassign,
		"dialect.while":             d.While,
		"dialect.set":               d.Set,
		"dialect.recursion":         d.Recursion,
	}
}

// LoadFromDir loads a ProjectConfig from the config file in dir, with
// relative paths resolved against dir. Returns nil, nil if there is no
// config file.
func LoadFromDir(dir string) (*ProjectConfig, error) {
	configPath := FindConfigFile(dir)
	if configPath == "" {
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(DefaultsMap(), "."), nil); err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, err
	}

	var cfg ProjectConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.ResolvePaths(dir)
	return &cfg, nil
}

// ResolvePaths makes the relative directories of c relative to baseDir.
func (c *ProjectConfig) ResolvePaths(baseDir string) {
	for i, p := range c.SearchPath {
		c.SearchPath[i] = resolve(p, baseDir)
	}
	c.MacrosDir = resolve(c.MacrosDir, baseDir)
}

func resolve(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// FindConfigFile finds the config file in the given directory.
// Returns empty string if not found.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from the given directory to find a directory
// containing a config file. Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if FindConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
