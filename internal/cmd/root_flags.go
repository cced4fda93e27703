package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/codingagency/internal/config"
)

func initRootFlags(cmd *cobra.Command, cfg *config.Config) {
	initSessionFlags(cmd, cfg)

	flags := cmd.Flags()
	flags.BoolVarP(&cfg.OpenEditor, "editor", "e", false, flagUsage("editor"))
	flags.BoolVar(&cfg.ShowDiffs, "diff", false, flagUsage("diff"))
	flags.BoolVarP(&cfg.ShowHelp, "help", "h", false, flagUsage("help"))
	flags.BoolVarP(&cfg.Version, "version", "v", false, flagUsage("version"))

	flags.BoolVar(&memprofile, "memprofile", false, "Write memory profiles to the cache directory")
	_ = flags.MarkHidden("memprofile")
}
