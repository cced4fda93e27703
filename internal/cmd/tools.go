package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/tools/plan"
)

func newToolsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools and the agents using them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			return listTools(cmd, &rt.cfg)
		},
	}
}

func listTools(cmd *cobra.Command, cfg *config.Config) error {
	builtin, err := builtinTools(cmd.Context(), cfg, logging.Nop(), plan.NewTracker(), nil)
	if err != nil {
		return err
	}

	styles := present.StdoutStyles()
	out := cmd.OutOrStdout()
	entry := cfg.EntryAgent()
	for _, t := range builtin {
		users := make([]string, 0, len(cfg.Agents))
		for _, name := range agentNames(cfg, "") {
			if !slices.Contains(cfg.Agents[name].Tools, t.Name()) {
				continue
			}
			if name == entry {
				name += "*"
			}
			users = append(users, name)
		}
		line := t.Name()
		if len(users) > 0 {
			line += styles.Timeago.Render(" (" + strings.Join(users, ", ") + ")")
		}
		_, _ = fmt.Fprintln(out, line)
		if desc := firstLine(t.Description()); desc != "" {
			_, _ = fmt.Fprintln(out, styles.Comment.Render("  "+desc))
		}
	}
	return nil
}

// agentNames returns the configured agents starting with prefix, sorted.
func agentNames(cfg *config.Config, prefix string) []string {
	names := slices.Sorted(maps.Keys(cfg.Agents))
	return slices.DeleteFunc(names, func(name string) bool {
		return !strings.HasPrefix(name, prefix)
	})
}
