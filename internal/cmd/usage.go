package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/codingagency/internal/present"
)

// useLine renders "codingagency [OPTIONS] [PROMPT]" or, for subcommands,
// their command path and arguments.
func useLine(s present.Styles, gradient bool, cmd *cobra.Command) string {
	appName := cmd.Root().Name()
	if gradient {
		appName = present.MakeGradientText(s.AppName, appName)
	}
	path := appName
	if cmd.HasParent() {
		path += " " + strings.TrimSpace(strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()))
	}

	args := "[PROMPT]"
	if cmd.HasParent() {
		args = strings.TrimSpace(strings.TrimPrefix(cmd.Use, cmd.Name()))
	}
	if cmd.HasAvailableFlags() {
		args = strings.TrimSpace("[OPTIONS] " + args)
	}
	if args == "" {
		return path
	}
	return path + " " + s.CliArgs.Render(args)
}

func usageFunc(cmd *cobra.Command) error {
	writeUsage(cmd.OutOrStdout(), present.StdoutStyles(), present.StdoutRenderer().ColorProfile() == termenv.TrueColor, cmd)
	return nil
}

func writeUsage(w io.Writer, s present.Styles, gradient bool, cmd *cobra.Command) {
	fmt.Fprintf(w, "Usage:\n  %s\n\n", useLine(s, gradient, cmd))

	var subs []*cobra.Command
	for _, c := range cmd.Commands() {
		if c.IsAvailableCommand() {
			subs = append(subs, c)
		}
	}
	if len(subs) > 0 {
		fmt.Fprintln(w, "Commands:")
		for _, c := range subs {
			fmt.Fprintf(w, "  %-12s %s\n", c.Name(), s.Comment.Render(c.Short))
		}
		fmt.Fprintln(w)
	}

	if cmd.HasAvailableFlags() {
		fmt.Fprintln(w, "Options:")
		cmd.Flags().VisitAll(func(f *flag.Flag) {
			if f.Hidden {
				return
			}
			if f.Shorthand == "" {
				fmt.Fprintf(w, "  %-44s %s\n", s.Flag.Render("--"+f.Name), s.FlagDesc.Render(f.Usage))
				return
			}
			fmt.Fprintf(w, "  %s%s %-40s %s\n",
				s.Flag.Render("-"+f.Shorthand),
				s.FlagComma,
				s.Flag.Render("--"+f.Name),
				s.FlagDesc.Render(f.Usage),
			)
		})
	}

	if !cmd.HasExample() {
		return
	}
	if code, ok := examples[cmd.Example]; ok {
		fmt.Fprintf(w, "\nExample:\n  %s\n  %s\n", s.Comment.Render("# "+cmd.Example), cheapHighlighting(s, code))
		return
	}
	fmt.Fprintf(w, "\nExample:\n  %s\n", cheapHighlighting(s, cmd.Example))
}
