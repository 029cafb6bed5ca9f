package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	replPrompt     = ">>> "
	replContinue   = "... "
	replFilename   = "<repl>"
	replHistoryDir = "stardialect"
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	var dialectName string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive Starlark session",
		Long: `Start an interactive session. With --dialect, every chunk is rewritten by the
dialect before it runs.

A chunk ends at the first line when that line is complete; a line ending in
":" or with unclosed brackets starts a block that ends at an empty line.`,
		Example: `  stardialect repl
  stardialect repl --dialect unless`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, dialectName)
		},
	}

	cmd.Flags().StringVarP(&dialectName, "dialect", "d", "", "Dialect applied to every chunk")
	_ = cmd.RegisterFlagCompletionFunc("dialect", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return dialect.List(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runREPL(cmd *cobra.Command, dialectName string) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	env, err := cc.NewEnvironment()
	if err != nil {
		return err
	}
	session, err := NewSession(ctx, env, dialectName, cc.Cfg.Macros)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	banner := "stardialect " + version
	if dialectName != "" {
		banner += " (dialect: " + dialectName + ")"
	}
	_, _ = fmt.Fprintln(out, banner)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")

	var chunk strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			chunk.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if chunk.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ".") {
				if quit := session.command(out, trimmed); quit {
					break
				}
				continue
			}
		}

		chunk.WriteString(line)
		chunk.WriteString("\n")
		if !chunkComplete(chunk.String(), line) {
			rl.SetPrompt(replContinue)
			continue
		}
		rl.SetPrompt(replPrompt)

		v, err := session.Eval(ctx, chunk.String())
		chunk.Reset()
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", describeImportError(err))
			continue
		}
		if v != nil && v != starlark.None {
			_, _ = fmt.Fprintln(out, v.String())
		}
	}
	return nil
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, replHistoryDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ""
	}
	return filepath.Join(dir, "repl_history")
}

// chunkComplete reports whether buffered input can run. A block runs once
// an empty line follows it.
func chunkComplete(buf, last string) bool {
	if strings.TrimSpace(last) == "" {
		return true
	}
	if bracketDepth(buf) > 0 {
		return false
	}
	first := strings.SplitN(buf, "\n", 2)[0]
	if strings.HasSuffix(strings.TrimSpace(first), ":") {
		return false
	}
	return !strings.HasSuffix(strings.TrimRight(last, " \t"), "\\")
}

// bracketDepth counts unclosed brackets outside string literals.
func bracketDepth(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		}
	}
	return depth
}

// Session evaluates chunks of a REPL against persistent globals.
type Session struct {
	env     *importer.Environment
	dialect *dialect.Dialect
	macros  bool
	ctx     context.Context
	thread  *starlark.Thread
	globals starlark.StringDict
}

// NewSession starts a session. A non-empty dialectName is imported and
// applied to every chunk.
func NewSession(ctx context.Context, env *importer.Environment, dialectName string, macros bool) (*Session, error) {
	ctx = env.Context(ctx)
	s := &Session{
		env:     env,
		macros:  macros,
		ctx:     ctx,
		thread:  module.Thread(ctx, replFilename),
		globals: starlark.StringDict{},
	}
	// Chunks see the predeclared names as ordinary globals.
	for name, v := range env.Importer.Predeclared() {
		s.globals[name] = v
	}
	if dialectName == "" {
		return s, nil
	}

	mod, err := env.Import(ctx, dialectName)
	if err != nil {
		return nil, &importer.Error{Kind: importer.ErrDialectImport, Module: replFilename, Dialect: dialectName, Err: err}
	}
	d := dialect.Inspect(mod)
	if err := d.Validate(); err != nil {
		return nil, &importer.Error{Kind: importer.ErrNoCapability, Module: replFilename, Dialect: dialectName}
	}
	s.dialect = d
	s.globals[importer.LangName] = starlark.String(dialectName)
	return s, nil
}

// Globals returns the session's globals, predeclared names included.
func (s *Session) Globals() starlark.StringDict { return s.globals }

// Eval runs one chunk. The value of a chunk that is a single expression is
// returned; otherwise the result is nil.
func (s *Session) Eval(ctx context.Context, chunk string) (starlark.Value, error) {
	if ctx == nil {
		ctx = s.ctx
	}
	text, err := s.transformSource(chunk)
	if err != nil {
		return nil, err
	}

	opts := s.env.Importer.FileOptions()
	f, err := opts.Parse(replFilename, text, 0)
	if err != nil {
		return nil, err
	}

	if s.dialect != nil && s.dialect.Tree != nil {
		if f.Stmts, err = s.dialect.Tree(f.Stmts); err != nil {
			return nil, &importer.Error{Kind: importer.ErrTransform, Module: replFilename, Dialect: s.dialect.Name, Err: err}
		}
	}
	if s.macros {
		if bindings := macro.Detect(f, replFilename, "", replFilename); len(bindings) > 0 {
			if f, err = macro.ExpandTree(s.env.Context(ctx), f, text, bindings); err != nil {
				return nil, err
			}
		}
	}

	if len(f.Stmts) == 1 {
		if expr, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			return starlark.EvalExprOptions(opts, s.thread, expr.X, s.globals)
		}
	}
	return nil, starlark.ExecREPLChunk(f, s.thread, s.globals)
}

// transformSource applies the dialect's text transform to a chunk. The chunk
// is given the declaration line the transform expects, which is removed
// again afterwards.
func (s *Session) transformSource(chunk string) (string, error) {
	if s.dialect == nil || s.dialect.Source == nil {
		return chunk, nil
	}
	declaration := importer.Marker + " " + s.dialect.Name + "\n"
	out, err := s.dialect.Source(declaration + chunk)
	if err != nil {
		return "", &importer.Error{Kind: importer.ErrTransform, Module: replFilename, Dialect: s.dialect.Name, Err: err}
	}
	if !strings.HasPrefix(out, importer.Marker) {
		return "", &importer.Error{Kind: importer.ErrDeclarationRemoved, Module: replFilename, Dialect: s.dialect.Name}
	}
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		return out[i+1:], nil
	}
	return "", nil
}

// command runs a dot-command and reports whether the session should end.
func (s *Session) command(w io.Writer, line string) bool {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ".quit", ".exit":
		return true
	case ".globals":
		predeclared := s.env.Importer.Predeclared()
		names := make([]string, 0, len(s.globals))
		for name := range s.globals {
			if !predeclared.Has(name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "%s = %s\n", name, s.globals[name].String())
		}
	case ".help":
		printREPLHelp(w)
	default:
		_, _ = fmt.Fprintf(w, "Unknown command: %s (type .help for commands)\n", line)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .globals        List the session's globals
  .quit / .exit   Exit the REPL

Tips:
  - A line ending in ":" starts a block; finish it with an empty line
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}
