// Package main is the command-line client of the credential vault.
package main

import (
	"cmp"
	"fmt"
	"os"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	root := newRootCmd(os.Stdin, os.Stdout)
	root.Version = fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
