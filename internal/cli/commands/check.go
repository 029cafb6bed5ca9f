package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
)

// CheckResult reports on one checked file.
type CheckResult struct {
	File       string   `json:"file" yaml:"file"`
	Module     string   `json:"module" yaml:"module"`
	Dialect    string   `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	Stages     []string `json:"stages,omitempty" yaml:"stages,omitempty"`
	Statements int      `json:"statements" yaml:"statements"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the file checked cleanly.
func (r *CheckResult) OK() bool { return r.Error == "" }

// errCheckFailed is returned when at least one file fails.
var errCheckFailed = errors.New("check failed")

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.star>...",
		Short: "Transform and compile files without running them",
		Long: `Run each file through the dialect pipeline and compile the result,
without executing the module body. Dialect modules are still imported.

Exits with an error when any file fails.`,
		Example: `  stardialect check examples/*.star`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args)
		},
	}
}

func runCheck(cmd *cobra.Command, files []string) error {
	cc := NewCommandContext(cmd)

	results := make([]*CheckResult, 0, len(files))
	failed := false
	for _, file := range files {
		res := checkFile(cmd.Context(), cc, file)
		if !res.OK() {
			failed = true
		}
		results = append(results, res)
	}

	if ok, err := cc.Renderer.Structured(results); ok {
		if err != nil {
			return err
		}
	} else {
		renderCheck(cc, results)
	}
	if failed {
		return errCheckFailed
	}
	return nil
}

func renderCheck(cc *CommandContext, results []*CheckResult) {
	styles := cc.Renderer.Styles()
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := styles.Success.Render("ok")
		if !r.OK() {
			status = styles.Error.Render("FAIL")
		}
		dialectName := r.Dialect
		if dialectName == "" {
			dialectName = "-"
		}
		rows = append(rows, []string{r.File, status, dialectName, strings.Join(r.Stages, ", "), strconv.Itoa(r.Statements)})
	}
	cc.Renderer.Table([]string{"File", "Status", "Dialect", "Stages", "Statements"}, rows)

	for _, r := range results {
		if !r.OK() {
			cc.Renderer.Errorf("%s: %s\n", r.File, r.Error)
		}
	}
}

// checkFile transforms and compiles one file.
func checkFile(ctx context.Context, cc *CommandContext, file string) *CheckResult {
	res := &CheckResult{File: file}
	fail := func(err error) *CheckResult {
		res.Error = err.Error()
		return res
	}

	name, dir, err := moduleTarget(file)
	if err != nil {
		return fail(err)
	}
	if dir == "" {
		return fail(fmt.Errorf("%s is not a %s file", file, module.SourceExt))
	}
	res.Module = name

	env, err := cc.NewEnvironment(dir)
	if err != nil {
		return fail(err)
	}
	ctx = env.Context(ctx)

	spec, err := module.NewDirFinder(dir).FindSpec(ctx, name, nil, nil)
	if err != nil {
		return fail(err)
	}
	if spec == nil {
		return fail(fmt.Errorf("%w: %s", module.ErrModuleNotFound, file))
	}

	transformed, err := env.Finder.Transform(ctx, spec)
	if err != nil {
		return fail(err)
	}
	if transformed != nil {
		loader := transformed.Loader.(*importer.Loader)
		res.Dialect = loader.Dialect()
		res.Stages = loader.Stages()
		res.Statements = len(loader.Tree().Stmts)
		return res
	}

	// Plain Starlark.
	source, err := spec.Loader.(module.SourceLoader).GetSource(name)
	if err != nil {
		return fail(err)
	}
	tree, err := env.Importer.FileOptions().Parse(spec.Origin, source, 0)
	if err != nil {
		return fail(err)
	}
	if _, err := starlark.FileProgram(tree, env.Importer.Predeclared().Has); err != nil {
		return fail(err)
	}
	res.Statements = len(tree.Stmts)
	return res
}
