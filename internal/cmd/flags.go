package cmd

import (
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/duration"
	"github.com/charmbracelet/x/exp/ordered"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/present"
)

var helpText = map[string]string{
	"agent":                 "Agent to talk to. Defaults to the agency entry agent.",
	"api":                   "OpenAI compatible REST API (openai, anthropic, google, openrouter, ollama, etc.).",
	"model":                 "Model to use, overriding the agent's model.",
	"http-proxy":            "HTTP proxy to use for API requests.",
	"raw":                   "Print the answer without Markdown rendering.",
	"quiet":                 "Quiet mode (hide tool activity and messages on STDERR).",
	"continue":              "Continue from a thread; the conversation is saved under the same ID unless --title is given.",
	"continue-last":         "Continue the last thread.",
	"title":                 "Save the current thread with the given title.",
	"no-cache":              "Disables thread persistence.",
	"workspace":             "Directory the shell and apply_patch tools work in.",
	"max-turns":             "Maximum number of tool rounds in a single turn.",
	"max-retries":           "Maximum number of times to retry API calls.",
	"max-tokens":            "Maximum number of tokens in the response.",
	"max-completion-tokens": "Maximum number of completion tokens in the response.",
	"request-timeout":       "Time limit for a single turn, including tool calls.",
	"word-wrap":             "Wrap formatted output at specific width.",
	"temp":                  "Temperature (randomness) of results, from 0.0 to 2.0, -1.0 to disable.",
	"topp":                  "TopP, an alternative to temperature that narrows response, from 0.0 to 1.0, -1.0 to disable.",
	"topk":                  "TopK, only sample from the top K options for each subsequent token, -1 to disable.",
	"no-limit":              "Turn off the client-side limit on the size of the input into the model.",
	"log-level":             "Log level written to the log file (debug, info, warn, error).",
	"mcp-disable":           "Disable specific MCP servers, use * to disable all.",
	"mcp-no-inherit-env":    "Do not inherit the parent environment in stdio MCP servers.",
	"theme":                 "Theme to use in the forms. Valid units are: 'charm', 'catppuccin', 'dracula', and 'base16'.",
	"editor":                "Edit the prompt in your $EDITOR.",
	"diff":                  "Print a unified diff of every file the agent changes.",
	"help":                  "Show help and exit.",
	"version":               "Show version and exit.",
}

func flagUsage(name string) string {
	return present.StdoutStyles().FlagDesc.Render(helpText[name])
}

// initSessionFlags registers the flags shared by the headless run and the
// chat session.
func initSessionFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	flags.StringVarP(&cfg.Agent, "agent", "A", cfg.Agent, flagUsage("agent"))
	flags.StringVarP(&cfg.Model, "model", "m", cfg.Model, flagUsage("model"))
	flags.StringVarP(&cfg.API, "api", "a", cfg.API, flagUsage("api"))
	flags.StringVarP(&cfg.HTTPProxy, "http-proxy", "x", cfg.HTTPProxy, flagUsage("http-proxy"))
	flags.BoolVarP(&cfg.Raw, "raw", "r", cfg.Raw, flagUsage("raw"))
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, flagUsage("quiet"))
	flags.StringVarP(&cfg.Continue, "continue", "c", "", flagUsage("continue"))
	flags.BoolVarP(&cfg.ContinueLast, "continue-last", "C", false, flagUsage("continue-last"))
	flags.StringVarP(&cfg.Title, "title", "t", cfg.Title, flagUsage("title"))
	flags.BoolVar(&cfg.NoCache, "no-cache", cfg.NoCache, flagUsage("no-cache"))
	flags.StringVarP(&cfg.Workspace, "workspace", "w", cfg.Workspace, flagUsage("workspace"))
	flags.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, flagUsage("max-turns"))
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, flagUsage("max-retries"))
	flags.Int64Var(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, flagUsage("max-tokens"))
	flags.Int64Var(&cfg.MaxCompletionTokens, "max-completion-tokens", cfg.MaxCompletionTokens, flagUsage("max-completion-tokens"))
	flags.Var(newDurationFlag(cfg.RequestTimeout, &cfg.RequestTimeout), "request-timeout", flagUsage("request-timeout"))
	flags.IntVar(&cfg.WordWrap, "word-wrap", cfg.WordWrap, flagUsage("word-wrap"))
	flags.Float64Var(&cfg.Temperature, "temp", cfg.Temperature, flagUsage("temp"))
	flags.Float64Var(&cfg.TopP, "topp", cfg.TopP, flagUsage("topp"))
	flags.Int64Var(&cfg.TopK, "topk", cfg.TopK, flagUsage("topk"))
	flags.BoolVar(&cfg.NoLimit, "no-limit", cfg.NoLimit, flagUsage("no-limit"))
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, flagUsage("log-level"))
	flags.StringArrayVar(&cfg.MCPDisable, "mcp-disable", cfg.MCPDisable, flagUsage("mcp-disable"))
	flags.BoolVar(&cfg.MCPNoInheritEnv, "mcp-no-inherit-env", cfg.MCPNoInheritEnv, flagUsage("mcp-no-inherit-env"))
	flags.StringVar(&cfg.Theme, "theme", ordered.First(cfg.Theme, "charm"), flagUsage("theme"))
	flags.SortFlags = false

	_ = cmd.RegisterFlagCompletionFunc("continue", func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return conversationCompletions(cfg, toComplete), cobra.ShellCompDirectiveDefault
	})
	_ = cmd.RegisterFlagCompletionFunc("agent", func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return agentNames(cfg, toComplete), cobra.ShellCompDirectiveDefault
	})

	cmd.MarkFlagsMutuallyExclusive("continue", "continue-last")
}

// applyModelOverride points every agent at the --api/--model given on the
// command line. Without the flags each agent keeps its own model.
func applyModelOverride(flags *flag.FlagSet, cfg *config.Config) {
	apiSet := flags.Changed("api")
	modelSet := flags.Changed("model")
	if !apiSet && !modelSet {
		return
	}
	for name, ac := range cfg.Agents {
		if apiSet {
			ac.API = cfg.API
		}
		if modelSet {
			ac.Model = cfg.Model
		}
		cfg.Agents[name] = ac
	}
}

func newFlagParseError(err error) flagParseError {
	var reason, flag string
	s := err.Error()
	switch {
	case strings.HasPrefix(s, "flag needs an argument:"):
		reason = "Flag %s needs an argument."
		ps := strings.Split(s, "-")
		switch len(ps) {
		case 2: //nolint:mnd
			flag = "-" + ps[len(ps)-1]
		case 3: //nolint:mnd
			flag = "--" + ps[len(ps)-1]
		}
	case strings.HasPrefix(s, "unknown flag:"):
		reason = "Flag %s is missing."
		flag = strings.TrimPrefix(s, "unknown flag: ")
	case strings.HasPrefix(s, "unknown shorthand flag:"):
		reason = "Short flag %s is missing."
		parts := shorthandFlagRe.FindStringSubmatch(s)
		if len(parts) > 1 {
			flag = parts[1]
		}
	case strings.HasPrefix(s, "invalid argument"):
		reason = "Flag %s have an invalid argument."
		parts := invalidArgRe.FindStringSubmatch(s)
		if len(parts) > 1 {
			flag = parts[1]
		}
	default:
		reason = s
	}
	return flagParseError{
		err:    err,
		reason: reason,
		flag:   flag,
	}
}

var (
	shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.*' in (-\w)`)
	invalidArgRe    = regexp.MustCompile(`invalid argument ".*" for "(.*)" flag: .*`)
)

type flagParseError struct {
	err    error
	reason string
	flag   string
}

func (f flagParseError) Error() string {
	return f.err.Error()
}

func (f flagParseError) ReasonFormat() string {
	return f.reason
}

func (f flagParseError) Flag() string {
	return f.flag
}

func newDurationFlag(val time.Duration, p *time.Duration) *durationFlag {
	*p = val
	return (*durationFlag)(p)
}

type durationFlag time.Duration

func (d *durationFlag) Set(s string) error {
	v, err := duration.Parse(s)
	*d = durationFlag(v)
	//nolint: wrapcheck
	return err
}

func (d *durationFlag) String() string {
	return time.Duration(*d).String()
}

func (*durationFlag) Type() string {
	return "duration"
}
