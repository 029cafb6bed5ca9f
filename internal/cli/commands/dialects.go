package commands

import (
	"strings"

	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/spf13/cobra"
)

// DialectInfo describes a registered dialect.
type DialectInfo struct {
	Name         string   `json:"name" yaml:"name"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Doc          string   `json:"doc,omitempty" yaml:"doc,omitempty"`
}

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the built-in dialects",
		Long: `List the dialects compiled into stardialect, with the transforms each provides.

Starlark modules on the search path that define source_transformer are dialects
too, but are not listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)
			infos := ListDialects()

			if ok, err := cc.Renderer.Structured(infos); ok {
				return err
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{info.Name, strings.Join(info.Capabilities, ", "), info.Doc})
			}
			cc.Renderer.Table([]string{"Name", "Capabilities", "Doc"}, rows)
			return nil
		},
	}
}

// ListDialects returns the registered dialects sorted by name.
func ListDialects() []DialectInfo {
	names := dialect.List()
	infos := make([]DialectInfo, 0, len(names))
	for _, name := range names {
		d, ok := dialect.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, DialectInfo{Name: d.Name, Capabilities: d.Capabilities(), Doc: d.Doc})
	}
	return infos
}
