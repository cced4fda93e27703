// Package main provides the codingagency CLI.
package main

import (
	"github.com/dotcommander/codingagency/internal/cmd"
	"github.com/dotcommander/codingagency/internal/config"
)

// Build vars.
var (
	//nolint: gochecknoglobals
	Version = ""
	//nolint: gochecknoglobals
	CommitSHA = ""
)

func main() {
	cfg, cfgErr := config.Ensure()
	cmd.Execute(cmd.BuildInfo{Version: Version, CommitSHA: CommitSHA}, cfg, cfgErr)
}
