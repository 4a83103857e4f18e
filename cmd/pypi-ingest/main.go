package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/withObsrvr/pypi-ingest/internal/cli/cmd"
)

// Set at build time with -ldflags "-X main.version=..."
var (
	version   string
	gitCommit string
	buildDate string
)

func main() {
	cmd.SetVersionInfo(version, gitCommit, buildDate)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
