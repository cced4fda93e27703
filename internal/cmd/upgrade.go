package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/dotcommander/codingagency"

// installTarget is the go install argument for version. Empty means latest.
func installTarget(version string) string {
	version = strings.TrimSpace(version)
	switch {
	case version == "":
		version = "latest"
	case version != "latest" && !strings.HasPrefix(version, "v"):
		version = "v" + version
	}
	return modulePath + "@" + version
}

func newUpgradeCmd(rt *runtime) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade codingagency with go install",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			target := installTarget(version)
			if !rt.cfg.Quiet {
				fmt.Fprintf(os.Stderr, "Current version: %s\n", rt.build.Version)
				fmt.Fprintf(os.Stderr, "Running go install %s ...\n", target)
			}

			gobin, err := exec.LookPath("go")
			if err != nil {
				return fmt.Errorf("go not found in PATH: %w", err)
			}

			install := exec.Command(gobin, "install", target)
			install.Stdout = os.Stdout
			install.Stderr = os.Stderr
			if err := install.Run(); err != nil {
				return fmt.Errorf("go install %s: %w", target, err)
			}

			if !rt.cfg.Quiet {
				fmt.Fprintln(os.Stderr, "Upgrade complete. Saved threads and settings are unchanged.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "to", "", "Version to install, e.g. v0.4.0. Defaults to the latest release.")
	return cmd
}
