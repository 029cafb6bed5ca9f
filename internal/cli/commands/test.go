package commands

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

const (
	testDirName    = "test"
	testFilePrefix = "test_"
)

// skippedDirs are never searched for test directories.
var skippedDirs = map[string]bool{
	"build": true,
	"dist":  true,
}

// TestResult reports on one test module.
type TestResult struct {
	Module   string        `json:"module" yaml:"module"`
	Dir      string        `json:"dir" yaml:"dir"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Tests    []string      `json:"tests,omitempty" yaml:"tests,omitempty"`
	Output   string        `json:"output,omitempty" yaml:"output,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// errTestsFailed is returned when at least one test module fails.
var errTestsFailed = errors.New("at least one test failed")

// NewTestCommand creates the test command.
func NewTestCommand() *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "test [dir...]",
		Short: "Run test modules",
		Long: `Find every directory named "test" below the given directories (default: the
project root) and import each test_*.star module in it, in a fresh environment
with the test directory on the search path. After import, every public
zero-argument function whose name starts with test_ is called.

A module passes when it imports and all its test functions return without
error; use fail() to report a failure.`,
		Example: `  stardialect test
  stardialect test examples --jobs 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, args, jobs)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "Number of test modules run in parallel")

	return cmd
}

// testModule is a discovered test file.
type testModule struct {
	dir  string
	name string
}

func runTests(cmd *cobra.Command, roots []string, jobs int) error {
	cc := NewCommandContext(cmd)
	if len(roots) == 0 {
		root := cc.Cfg.ProjectRoot
		if root == "" {
			root = "."
		}
		roots = []string{root}
	}

	var modules []testModule
	for _, root := range roots {
		dirs, err := FindTestDirs(root)
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			names, err := TestModules(dir)
			if err != nil {
				return err
			}
			for _, name := range names {
				modules = append(modules, testModule{dir: dir, name: name})
			}
		}
	}
	cc.Logger.Debug("discovered test modules", slog.Int("count", len(modules)))

	results := make([]*TestResult, len(modules))
	g, ctx := errgroup.WithContext(cmd.Context())
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, tm := range modules {
		g.Go(func() error {
			results[i] = runTestModule(ctx, cc, tm)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := false
	for _, r := range results {
		if !r.Passed {
			failed = true
		}
	}

	if ok, err := cc.Renderer.Structured(results); ok {
		if err != nil {
			return err
		}
	} else {
		renderTests(cc, results, failed)
	}
	if failed {
		return errTestsFailed
	}
	return nil
}

func renderTests(cc *CommandContext, results []*TestResult, failed bool) {
	styles := cc.Renderer.Styles()
	for _, r := range results {
		cc.Renderer.Println(styles.Header2.Render("*** Running " + filepath.Join(r.Dir, r.Module+module.SourceExt) + " ***"))
		if r.Output != "" {
			cc.Renderer.Printf("%s", r.Output)
		}
		if r.Passed {
			cc.Renderer.Printf("%s %s\n", styles.Success.Render("*** PASS ***"), styles.Muted.Render(r.Duration.Round(time.Millisecond).String()))
			continue
		}
		cc.Renderer.Println(r.Error)
		cc.Renderer.Println(styles.Error.Render("*** FAIL ***"))
	}
	if len(results) == 0 {
		cc.Renderer.Println(styles.Warning.Render("no test modules found"))
		return
	}
	if failed {
		cc.Renderer.Println(styles.Error.Render("AT LEAST ONE FAIL"))
		return
	}
	cc.Renderer.Println(styles.Success.Render("ALL OK"))
}

// runTestModule imports one test module and calls its test functions.
func runTestModule(ctx context.Context, cc *CommandContext, tm testModule) *TestResult {
	start := time.Now()
	res := &TestResult{Module: tm.name, Dir: tm.dir}
	var out bytes.Buffer
	defer func() {
		res.Output = out.String()
		res.Duration = time.Since(start)
	}()

	env, err := cc.newEnvironment(&out, []string{tm.dir})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	mod, err := env.Import(ctx, tm.name)
	if err != nil {
		res.Error = describeImportError(err).Error()
		return res
	}

	exports := mod.Exports()
	names := make([]string, 0, len(exports))
	for name, v := range exports {
		fn, ok := v.(*starlark.Function)
		if ok && strings.HasPrefix(name, testFilePrefix) && fn.NumParams() == 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	thread := module.Thread(env.Context(ctx), tm.name)
	for _, name := range names {
		if _, err := starlark.Call(thread, exports[name], nil, nil); err != nil {
			res.Error = name + ": " + describeImportError(err).Error()
			return res
		}
		res.Tests = append(res.Tests, name)
	}
	res.Passed = true
	return res
}

// FindTestDirs returns the directories named "test" below root, skipping
// hidden and build output directories.
func FindTestDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
			return filepath.SkipDir
		}
		if name == testDirName {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

// TestModules returns the module names of the test_*.star files in dir.
func TestModules(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, testFilePrefix) || !strings.HasSuffix(name, module.SourceExt) {
			continue
		}
		name = strings.TrimSuffix(name, module.SourceExt)
		if module.ValidName(name) && !strings.Contains(name, ".") {
			names = append(names, name)
		}
	}
	return names, nil
}
