package cmd

import (
	"os"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/present"
)

// Execute wires commands and runs Cobra. It exits the process on failure.
func Execute(build BuildInfo, cfg config.Config, cfgErr error) {
	root := NewRootCmd(build, cfg, cfgErr)
	err := root.Execute()
	maybeWriteMemProfile(cfg.CachePath)
	if err == nil {
		return
	}

	drainStdin()
	renderError(os.Stderr, present.StderrStyles(), err)
	os.Exit(exitCode(err))
}
