package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
)

// reserved names cannot be configured as globals.
var reserved = map[string]bool{
	"host":     true,
	"__lang__": true,
}

// Predeclared returns the globals predeclared in every module: the host
// struct and the configured globals.
func Predeclared(host *HostInfo, globals map[string]any) (starlark.StringDict, error) {
	out := make(starlark.StringDict, len(globals)+1)
	for _, name := range sortedKeys(globals) {
		if reserved[name] {
			return nil, fmt.Errorf("global %q conflicts with builtin", name)
		}
		v, err := GoToStarlark(globals[name])
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", name, err)
		}
		v.Freeze()
		out[name] = v
	}
	if host != nil {
		out["host"] = host.ToStarlark()
	}
	return out, nil
}
