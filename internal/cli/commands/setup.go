package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/stardialect/internal/cli/config"
	"github.com/leapstack-labs/stardialect/internal/cli/output"
	starctx "github.com/leapstack-labs/stardialect/internal/starlark"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
)

// version is reported to modules through host.version.
var version = "dev"

// SetVersion sets the version exposed to modules.
func SetVersion(v string) {
	version = v
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// NewEnvironment creates an import environment for the configuration.
// Extra directories are searched before the configured search path.
func (c *CommandContext) NewEnvironment(extra ...string) (*importer.Environment, error) {
	return c.newEnvironment(c.printWriter(), extra)
}

func (c *CommandContext) newEnvironment(out io.Writer, extra []string) (*importer.Environment, error) {
	predeclared, err := c.Cfg.Predeclared(&starctx.HostInfo{
		Version:  version,
		Dialects: dialect.List(),
		Macros:   c.Cfg.Macros,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid globals: %w", err)
	}

	searchPath := append(append([]string{}, extra...), c.Cfg.SearchPath...)

	return importer.NewEnvironment(importer.Config{
		SearchPath:  searchPath,
		Macros:      c.Cfg.Macros,
		QuietMisses: c.Cfg.QuietMisses,
		FileOptions: c.Cfg.Dialect.FileOptions(),
		Predeclared: predeclared,
		Print:       printTo(out),
		Logger:      c.Logger,
	}), nil
}

// printWriter is where Starlark print output goes. It is kept off stdout
// when stdout carries structured output.
func (c *CommandContext) printWriter() io.Writer {
	if c.Renderer.EffectiveMode() == output.ModeText {
		return c.Renderer.Writer()
	}
	return c.Renderer.ErrWriter()
}

func printTo(w io.Writer) func(*starlark.Thread, string) {
	return func(_ *starlark.Thread, msg string) {
		_, _ = fmt.Fprintln(w, msg)
	}
}

// moduleTarget resolves a run or check argument. A path to a .star file
// becomes the file's module name with its directory to search first;
// anything else is a dotted module name.
func moduleTarget(arg string) (name, dir string, err error) {
	if !strings.HasSuffix(arg, module.SourceExt) {
		if !module.ValidName(arg) {
			return "", "", fmt.Errorf("invalid module name %q", arg)
		}
		return arg, "", nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("%s is a directory", arg)
	}
	name = strings.TrimSuffix(filepath.Base(abs), module.SourceExt)
	if !module.ValidName(name) || strings.Contains(name, ".") {
		return "", "", fmt.Errorf("file name %q is not a module name", filepath.Base(abs))
	}
	return name, filepath.Dir(abs), nil
}
