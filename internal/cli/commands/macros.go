package commands

import (
	"os"
	"strings"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/spf13/cobra"
)

// NewMacrosCommand creates the macros command.
func NewMacrosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "macros",
		Short: "List available macro modules",
		Long: `List the builtin macro module and the macro modules found in the macros
directory, with the macros and functions each defines. Files are parsed, not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)

			entries := []*macro.Entry{macro.StdEntry()}
			if dir := cc.Cfg.MacrosDir; dir != "" {
				found, err := macro.Catalog(os.DirFS(dir), ".")
				if err != nil {
					return err
				}
				entries = append(entries, found...)
			}

			if ok, err := cc.Renderer.Structured(entries); ok {
				return err
			}
			renderMacros(cc, entries)
			return nil
		},
	}
}

func renderMacros(cc *CommandContext, entries []*macro.Entry) {
	styles := cc.Renderer.Styles()
	for i, e := range entries {
		if i > 0 {
			cc.Renderer.Println("")
		}
		cc.Renderer.Printf("%s %s\n", styles.Header1.Render(e.Module), styles.Muted.Render("("+e.File+")"))
		if e.Doc != "" {
			cc.Renderer.Println("  " + strings.TrimSpace(e.Doc))
		}
		if len(e.Macros) > 0 {
			cc.Renderer.Printf("  %s %s\n", styles.Bold.Render("macros:"), strings.Join(e.Macros, ", "))
		}
		for _, fn := range e.Functions {
			line := "  " + fn.Signature()
			if doc := firstLine(fn.Docstring); doc != "" {
				line += "  " + styles.Muted.Render(doc)
			}
			cc.Renderer.Println(line)
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
