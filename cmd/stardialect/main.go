// Package main provides the stardialect command.
package main

import (
	"os"

	"github.com/leapstack-labs/stardialect/internal/cli"

	// Register the example dialects.
	_ "github.com/leapstack-labs/stardialect/pkg/dialects"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
