package dialects

import "github.com/leapstack-labs/stardialect/pkg/dialect"

// Identity returns the source it is given.
var Identity = &dialect.Dialect{
	Name:   "identity",
	Doc:    "Plain Starlark.",
	Source: func(src string) (string, error) { return src, nil },
}

func init() {
	dialect.Register(Identity)
}
