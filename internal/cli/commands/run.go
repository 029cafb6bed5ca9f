package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/stardialect/internal/dag"
	starctx "github.com/leapstack-labs/stardialect/internal/starlark"
	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
)

// RunResult is the structured output of the run command.
type RunResult struct {
	Module  string         `json:"module" yaml:"module"`
	File    string         `json:"file" yaml:"file"`
	Dialect string         `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	Globals map[string]any `json:"globals" yaml:"globals"`
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <module|file.star>",
		Short: "Import a module and print its globals",
		Long: `Import a module through the dialect importer and print its public globals.

The argument is either a dotted module name, resolved against the search path,
or the path of a .star file, whose directory is searched first.`,
		Example: `  # Run a module from the search path
  stardialect run pkg.example

  # Run a file and print its globals as JSON
  stardialect run scripts/demo.star -o json

  # Re-run whenever a .star file changes
  stardialect run demo.star --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], watch)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run when .star files on the search path change")

	return cmd
}

func runRun(cmd *cobra.Command, arg string, watch bool) error {
	cc := NewCommandContext(cmd)
	name, dir, err := moduleTarget(arg)
	if err != nil {
		return err
	}
	var extra []string
	if dir != "" {
		extra = append(extra, dir)
	}

	// graph is the import graph of the last run, kept to report which
	// modules a change touches.
	var graph *dag.Graph
	run := func(ctx context.Context) error {
		env, err := cc.NewEnvironment(extra...)
		if err != nil {
			return err
		}
		err = runModule(ctx, cc, env, name)
		graph = dag.FromImporter(env.Importer)
		return err
	}
	if !watch {
		return run(cmd.Context())
	}

	if err := run(cmd.Context()); err != nil {
		cc.Renderer.Errorf("%s %v\n", cc.Renderer.Styles().Error.Render("error:"), err)
	}
	dirs := append(append([]string{}, extra...), cc.Cfg.SearchPath...)
	return watchDirs(cmd.Context(), cc.Logger, dirs, func(ctx context.Context, changed []string) {
		msg := "--- change detected, re-running " + name
		if graph != nil {
			if affected := graph.Affected(graph.ForFiles(changed)); len(affected) > 0 {
				msg += " (affected: " + strings.Join(affected, ", ") + ")"
			}
		}
		cc.Renderer.Println(cc.Renderer.Styles().Muted.Render(msg))
		if err := run(ctx); err != nil {
			cc.Renderer.Errorf("%s %v\n", cc.Renderer.Styles().Error.Render("error:"), err)
		}
	})
}

// runModule imports name in env and renders its globals.
func runModule(ctx context.Context, cc *CommandContext, env *importer.Environment, name string) error {
	mod, err := env.Import(ctx, name)
	if err != nil {
		return describeImportError(err)
	}
	cc.Logger.Debug("module imported", slog.String("module", name), slog.String("file", mod.Filename()))

	exports := mod.Exports()
	globals, err := starctx.StringDictToGo(exports)
	if err != nil {
		return err
	}
	result := RunResult{
		Module:  mod.Name,
		File:    mod.Filename(),
		Dialect: dialectOf(mod),
		Globals: globals,
	}
	if ok, err := cc.Renderer.Structured(result); ok {
		return err
	}

	names := make([]string, 0, len(exports))
	for n := range exports {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		cc.Renderer.Printf("%s = %s\n", cc.Renderer.Styles().Bold.Render(n), exports[n].String())
	}
	return nil
}

// dialectOf returns the dialect a module was written in, if any.
func dialectOf(mod *module.Module) string {
	if s, ok := mod.Globals[importer.LangName].(starlark.String); ok {
		return string(s)
	}
	return ""
}

// describeImportError adds the Starlark backtrace to evaluation errors.
func describeImportError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}
