package cmd

import (
	"fmt"
	"os"
	"strings"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

// manEnvironment documents the variables read besides CODINGAGENCY_<SETTING>.
var manEnvironment = []struct{ name, desc string }{
	{"OPENAI_API_KEY", "API key for the openai API, the image tool and web search."},
	{"CODINGAGENCY_<SETTING>", "Overrides any top-level setting, e.g. CODINGAGENCY_MODEL or CODINGAGENCY_WORKSPACE."},
	{"CODING_AGENT_SHELL_TIMEOUT_SECONDS", "Default shell command timeout. 0 or less disables it; unparsable values use 120."},
	{"CODING_AGENT_SHELL_INACTIVITY_TIMEOUT_SECONDS", "Kill commands silent for this long. 0 or less disables it; unparsable values use 20."},
	{"CODING_AGENT_SHELL_BACKGROUND_ON_TIMEOUT", "Set to 1 to leave timed-out commands running in the background."},
	{"CODING_AGENT_SHELL_FORCE_NON_INTERACTIVE", "Set to 1 (the default) to add non-interactive flags and environment to commands."},
	{"CODING_AGENT_SHELL_REACT_COMPILER", "Answer for create-next-app's React Compiler prompt: use or no."},
	{"GLAMOUR_STYLE", "Markdown style used to render answers."},
}

var manFiles = []struct{ path, desc string }{
	{"~/.config/codingagency/codingagency.yml", "Settings file, see codingagency config edit."},
	{"~/.config/codingagency/agents/*.md", "Agent definitions with YAML frontmatter."},
	{"<cache-path>/conversations", "Saved threads and their index."},
}

func buildManPage(root *cobra.Command) (string, error) {
	manPage, err := mcobra.NewManPage(1, root)
	if err != nil {
		return "", fmt.Errorf("build man page: %w", err)
	}

	var env strings.Builder
	for _, e := range manEnvironment {
		fmt.Fprintf(&env, "%s\n    %s\n\n", e.name, e.desc)
	}
	var files strings.Builder
	for _, f := range manFiles {
		fmt.Fprintf(&files, "%s\n    %s\n\n", f.path, f.desc)
	}
	manPage = manPage.
		WithSection("Environment", strings.TrimSpace(env.String())).
		WithSection("Files", strings.TrimSpace(files.String()))
	return manPage.Build(roff.NewDocument()), nil
}

func newManCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:                   "man",
		Short:                 "Generates manpages",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Hidden:                true,
		Args:                  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			page, err := buildManPage(root)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprint(os.Stdout, page); err != nil {
				return fmt.Errorf("write man page: %w", err)
			}
			return nil
		},
	}
}
