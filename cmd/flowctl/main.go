// Package main is the flowctl entrypoint.
package main

import (
	"os"

	"github.com/datakit-labs/flowctl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
