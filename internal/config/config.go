package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	stdstrings "strings"
	"text/template"
	"time"

	_ "embed"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/codingagency/internal/errs"
)

//go:embed config_template.yml
var configTemplate string

// Defaults for the bundled coding agent.
const (
	DefaultAgencyName         = "CodingAgency"
	DefaultAgentName          = "CodingAgent"
	DefaultAgentDescription   = "A gpt-5.1-based coding assistant template with no tools or instructions configured."
	DefaultModel              = "gpt-5.1-codex"
	DefaultAPI                = "openai"
	DefaultInstructions       = "./instructions.md"
	DefaultSharedInstructions = "./shared_instructions.md"
	DefaultWorkspace          = "./mnt"
	DefaultWebSearchModel     = "gpt-5.1"
	DefaultImageModel         = "gpt-image-1"
	DefaultDeployEndpoint     = "https://api.up2sha.re/v1/static-websites"
	DefaultDeployKeyEnv       = "UP2SHARE_API_KEY"
)

// DefaultTools lists the tools given to the bundled agent, in order.
var DefaultTools = []string{"apply_patch", "shell", "web_search", "generate_images", "update_plan"}

// Model represents the LLM model used in the API call.
type Model struct {
	Name     string
	API      string
	MaxChars int64    `yaml:"max-input-chars"`
	Aliases  []string `yaml:"aliases"`
	Fallback string   `yaml:"fallback"`
}

// API represents an API endpoint and its models.
type API struct {
	Name      string
	APIKey    string           `yaml:"api-key"`
	APIKeyEnv string           `yaml:"api-key-env"`
	APIKeyCmd string           `yaml:"api-key-cmd"`
	BaseURL   string           `yaml:"base-url"`
	Models    map[string]Model `yaml:"models"`
	User      string           `yaml:"user"`
}

// APIs is a type alias to allow custom YAML decoding.
type APIs []API

// UnmarshalYAML implements sorted API YAML decoding.
func (apis *APIs) UnmarshalYAML(node *yaml.Node) error {
	for i := 0; i < len(node.Content); i += 2 {
		var api API
		if err := node.Content[i+1].Decode(&api); err != nil {
			return fmt.Errorf("error decoding YAML file: %s", err)
		}
		api.Name = node.Content[i].Value
		*apis = append(*apis, api)
	}
	return nil
}

// AgentConfig describes one agent of the agency.
type AgentConfig struct {
	Description      string   `yaml:"description"`
	API              string   `yaml:"api"`
	Model            string   `yaml:"model"`
	Instructions     string   `yaml:"instructions"`
	Tools            []string `yaml:"tools"`
	ReasoningEffort  string   `yaml:"reasoning-effort"`
	ReasoningSummary string   `yaml:"reasoning-summary"`
}

// AgencyConfig describes the agency that hosts the agents.
type AgencyConfig struct {
	Name               string `yaml:"name" env:"AGENCY_NAME"`
	SharedInstructions string `yaml:"shared-instructions" env:"SHARED_INSTRUCTIONS"`
	Entry              string `yaml:"entry" env:"AGENT"`
}

// ShellSettings configure the shell tool.
//
// They are read from the settings file and then overlaid with the
// CODING_AGENT_SHELL_* environment variables. Timeouts <= 0 disable the
// corresponding watchdog.
type ShellSettings struct {
	TimeoutSeconds           float64 `yaml:"timeout-seconds"`
	InactivityTimeoutSeconds float64 `yaml:"inactivity-timeout-seconds"`
	BackgroundOnTimeout      bool    `yaml:"background-on-timeout"`
	ForceNonInteractive      bool    `yaml:"force-non-interactive"`
	ReactCompiler            string  `yaml:"react-compiler"`
}

// shellEnv is the raw form of the CODING_AGENT_SHELL_* variables. Empty
// fields were not set.
type shellEnv struct {
	TimeoutSeconds           string `env:"TIMEOUT_SECONDS"`
	InactivityTimeoutSeconds string `env:"INACTIVITY_TIMEOUT_SECONDS"`
	BackgroundOnTimeout      string `env:"BACKGROUND_ON_TIMEOUT"`
	ForceNonInteractive      string `env:"FORCE_NON_INTERACTIVE"`
	ReactCompiler            string `env:"REACT_COMPILER"`
}

// overlay applies the variables that are set to s. Timeouts that do not
// parse as numbers fall back to the defaults, and the switches are on only
// for "1".
func (e shellEnv) overlay(s *ShellSettings) {
	d := Default().Shell
	if e.TimeoutSeconds != "" {
		s.TimeoutSeconds = parseSeconds(e.TimeoutSeconds, d.TimeoutSeconds)
	}
	if e.InactivityTimeoutSeconds != "" {
		s.InactivityTimeoutSeconds = parseSeconds(e.InactivityTimeoutSeconds, d.InactivityTimeoutSeconds)
	}
	if e.BackgroundOnTimeout != "" {
		s.BackgroundOnTimeout = e.BackgroundOnTimeout == "1"
	}
	if e.ForceNonInteractive != "" {
		s.ForceNonInteractive = e.ForceNonInteractive == "1"
	}
	if e.ReactCompiler != "" {
		s.ReactCompiler = e.ReactCompiler
	}
}

func parseSeconds(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(stdstrings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) {
		return fallback
	}
	return f
}

// ImageSettings configure the image generation tool.
type ImageSettings struct {
	Model       string `yaml:"model" env:"IMAGE_MODEL"`
	Concurrency int    `yaml:"concurrency" env:"IMAGE_CONCURRENCY"`
}

// DeploySettings configure the static site deploy tool.
type DeploySettings struct {
	Endpoint  string `yaml:"endpoint" env:"DEPLOY_ENDPOINT"`
	APIKeyEnv string `yaml:"api-key-env" env:"DEPLOY_API_KEY_ENV"`
}

// Settings holds persisted configuration loaded from the YAML settings file
// and environment variables.
type Settings struct {
	API                 string        `yaml:"default-api" env:"API"`
	Model               string        `yaml:"default-model" env:"MODEL"`
	Raw                 bool          `yaml:"raw" env:"RAW"`
	Quiet               bool          `yaml:"quiet" env:"QUIET"`
	MaxTokens           int64         `yaml:"max-tokens" env:"MAX_TOKENS"`
	MaxCompletionTokens int64         `yaml:"max-completion-tokens" env:"MAX_COMPLETION_TOKENS"`
	MaxInputChars       int64         `yaml:"max-input-chars" env:"MAX_INPUT_CHARS"`
	Temperature         float64       `yaml:"temp" env:"TEMP"`
	Stop                []string      `yaml:"stop" env:"STOP"`
	TopP                float64       `yaml:"topp" env:"TOPP"`
	TopK                int64         `yaml:"topk" env:"TOPK"`
	NoLimit             bool          `yaml:"no-limit" env:"NO_LIMIT"`
	CachePath           string        `yaml:"cache-path" env:"CACHE_PATH"`
	NoCache             bool          `yaml:"no-cache" env:"NO_CACHE"`
	MaxRetries          int           `yaml:"max-retries" env:"MAX_RETRIES"`
	MaxTurns            int           `yaml:"max-turns" env:"MAX_TURNS"`
	RequestTimeout      time.Duration `yaml:"request-timeout" env:"REQUEST_TIMEOUT"`
	WordWrap            int           `yaml:"word-wrap" env:"WORD_WRAP"`
	HTTPProxy           string        `yaml:"http-proxy" env:"HTTP_PROXY"`
	APIs                APIs          `yaml:"apis"`
	Theme               string        `yaml:"theme" env:"THEME"`
	User                string        `yaml:"user" env:"USER_ID"`

	Agency    AgencyConfig           `yaml:"agency"`
	Agents    map[string]AgentConfig `yaml:"agents" env:"-"`
	Workspace string                 `yaml:"workspace" env:"WORKSPACE"`

	Shell          ShellSettings  `yaml:"shell" env:"-"`
	Images         ImageSettings  `yaml:"images"`
	WebSearchModel string         `yaml:"web-search-model" env:"WEB_SEARCH_MODEL"`
	Deploy         DeploySettings `yaml:"deploy"`

	MCPServers      map[string]MCPServerConfig `yaml:"mcp-servers"`
	MCPDisable      []string                   `yaml:"mcp-disable" env:"MCP_DISABLE"`
	MCPTimeout      time.Duration              `yaml:"mcp-timeout" env:"MCP_TIMEOUT"`
	MCPNoInheritEnv bool                       `yaml:"mcp-no-inherit-env" env:"MCP_NO_INHERIT_ENV"`

	LogLevel  string `yaml:"log-level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log-format" env:"LOG_FORMAT"`
	LogFile   string `yaml:"log-file" env:"LOG_FILE"`
}

// Runtime holds CLI/runtime-only options that should not be loaded from the
// settings file.
type Runtime struct {
	ShowHelp        bool
	Version         bool
	SettingsPath    string
	Prefix          string
	Agent           string
	ContinueLast    bool
	Continue        string
	Title           string
	Show            string
	ShowLast        bool
	DeleteOlderThan time.Duration
	OpenEditor      bool
	ShowDiffs       bool

	CacheReadFromID                   string
	CacheWriteToID, CacheWriteToTitle string
}

// Config is the application configuration (settings + runtime-only options).
//
// Settings fields are promoted for ergonomic access, but runtime fields are
// explicitly excluded from YAML/env parsing.
type Config struct {
	Settings `yaml:",inline"`
	Runtime  `yaml:"-" env:"-"`
}

// MCPServerConfig holds configuration for an MCP server.
type MCPServerConfig struct {
	Type    string   `yaml:"type"`
	Command string   `yaml:"command"`
	Env     []string `yaml:"env"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
}

// EntryAgent returns the name of the agent a session starts with.
func (c *Config) EntryAgent() string {
	if c.Agent != "" {
		return c.Agent
	}
	if c.Agency.Entry != "" {
		return c.Agency.Entry
	}
	return DefaultAgentName
}

// Ensure loads settings from disk and environment and applies defaults.
//
// It also creates the default settings file if it does not exist.
func Ensure() (Config, error) {
	c := Default()
	home, err := os.UserHomeDir()
	if err != nil {
		return c, errs.Error{Err: err, Reason: "Could not determine home directory."}
	}

	sp := filepath.Join(home, ".config", "codingagency", "codingagency.yml")
	c.SettingsPath = sp

	dir := filepath.Dir(sp)
	if dirErr := os.MkdirAll(dir, 0o700); dirErr != nil {
		return c, errs.Error{Err: dirErr, Reason: "Could not create cache directory."}
	}

	if dirErr := WriteConfigFile(sp); dirErr != nil {
		return c, dirErr
	}
	content, err := os.ReadFile(sp)
	if err != nil {
		return c, errs.Error{Err: err, Reason: "Could not read settings file."}
	}
	if err := Load(&c, content); err != nil {
		return c, err
	}

	if c.CachePath == "" {
		c.CachePath = filepath.Join(home, ".config", "codingagency", "history")
	}
	if err := os.MkdirAll(
		filepath.Join(c.CachePath, "conversations"),
		0o700,
	); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not create cache directory."}
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.CachePath, "codingagency.log")
	}

	return c, nil
}

// Load decodes settings YAML into c, overlays the environment, merges agent
// files and fills in defaults for anything left empty.
func Load(c *Config, content []byte) error {
	if err := yaml.Unmarshal(content, c); err != nil {
		return errs.Error{Err: err, Reason: "Could not parse settings file."}
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: "CODINGAGENCY_"}); err != nil {
		return errs.Error{Err: err, Reason: "Could not parse environment into settings file."}
	}
	var shell shellEnv
	if err := env.ParseWithOptions(&shell, env.Options{Prefix: "CODING_AGENT_SHELL_"}); err != nil {
		return errs.Error{Err: err, Reason: "Could not read CODING_AGENT_SHELL_* environment variables."}
	}
	shell.overlay(&c.Shell)
	if c.SettingsPath != "" {
		if err := MergeAgentsFromDir(c); err != nil {
			return errs.Error{Err: err, Reason: "Could not load agents from agents directory."}
		}
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.API == "" {
		c.API = d.API
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.WordWrap == 0 {
		c.WordWrap = 80
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.MCPTimeout == 0 {
		c.MCPTimeout = d.MCPTimeout
	}
	if c.Workspace == "" {
		c.Workspace = d.Workspace
	}
	if c.Agency.Name == "" {
		c.Agency.Name = d.Agency.Name
	}
	if len(c.Agents) == 0 {
		c.Agents = d.Agents
	}
	if c.WebSearchModel == "" {
		c.WebSearchModel = d.WebSearchModel
	}
	if c.Images.Model == "" {
		c.Images.Model = d.Images.Model
	}
	if c.Images.Concurrency <= 0 {
		c.Images.Concurrency = d.Images.Concurrency
	}
	if c.Deploy.Endpoint == "" {
		c.Deploy.Endpoint = d.Deploy.Endpoint
	}
	if c.Deploy.APIKeyEnv == "" {
		c.Deploy.APIKeyEnv = d.Deploy.APIKeyEnv
	}
	switch stdstrings.ToLower(stdstrings.TrimSpace(c.Shell.ReactCompiler)) {
	case "use":
		c.Shell.ReactCompiler = "use"
	default:
		c.Shell.ReactCompiler = "no"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// MergeAgentsFromDir merges agent definitions from ~/.config/codingagency/agents
// into cfg. Agents defined in the settings file win.
func MergeAgentsFromDir(cfg *Config) error {
	agentsDir := filepath.Join(filepath.Dir(cfg.SettingsPath), "agents")
	agents, err := readAgentsFromDir(agentsDir)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return nil
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]AgentConfig{}
	}
	for name, agent := range agents {
		if _, exists := cfg.Agents[name]; exists {
			continue
		}
		cfg.Agents[name] = agent
	}
	return nil
}

func readAgentsFromDir(dir string) (map[string]AgentConfig, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read agents directory %q: %w", dir, err)
	}

	agents := map[string]AgentConfig{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if stdstrings.ToLower(filepath.Ext(path)) != ".md" {
			return nil
		}

		relPath, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return fmt.Errorf("resolve agent path %q: %w", path, relErr)
		}
		name := stdstrings.TrimSuffix(filepath.ToSlash(relPath), filepath.Ext(relPath))
		if name == "" {
			return nil
		}

		agent, agentErr := agentFromFile(path)
		if agentErr != nil {
			return fmt.Errorf("agent file %q: %w", relPath, agentErr)
		}
		agents[name] = agent
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read agents directory %q: %w", dir, err)
	}
	return agents, nil
}

// agentFromFile reads the frontmatter of an agent markdown file. The body
// becomes the agent instructions, referenced by path so edits are picked up.
func agentFromFile(path string) (AgentConfig, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("read agent file: %w", err)
	}
	var agent AgentConfig
	if _, err := ParseFrontmatter(string(bts), &agent); err != nil {
		return AgentConfig{}, err
	}
	agent.Instructions = "file://" + path
	return agent, nil
}

// WriteConfigFile creates the config file at path if it does not exist.
func WriteConfigFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createConfigFile(path)
	} else if err != nil {
		return errs.Error{Err: err, Reason: "Could not stat path."}
	}
	return nil
}

func createConfigFile(path string) error {
	tmpl := template.Must(template.New("config").Parse(configTemplate))

	f, err := os.Create(path)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not create configuration file."}
	}
	defer func() { _ = f.Close() }()

	m := struct{ Config Config }{Config: Default()}
	if err := tmpl.Execute(f, m); err != nil {
		return errs.Error{Err: err, Reason: "Could not render template."}
	}
	return nil
}

// Default returns the default configuration values.
func Default() Config {
	return Config{
		Settings: Settings{
			API:         DefaultAPI,
			Model:       DefaultModel,
			MaxRetries:  5,
			MaxTurns:    50,
			Temperature: -1,
			TopP:        -1,
			TopK:        -1,
			WordWrap:    80,
			Theme:       "charm",
			Workspace:   DefaultWorkspace,
			Agency: AgencyConfig{
				Name:               DefaultAgencyName,
				SharedInstructions: DefaultSharedInstructions,
				Entry:              DefaultAgentName,
			},
			Agents: map[string]AgentConfig{
				DefaultAgentName: {
					Description:      DefaultAgentDescription,
					API:              DefaultAPI,
					Model:            DefaultModel,
					Instructions:     DefaultInstructions,
					Tools:            append([]string(nil), DefaultTools...),
					ReasoningEffort:  "medium",
					ReasoningSummary: "auto",
				},
			},
			Shell: ShellSettings{
				TimeoutSeconds:           120,
				InactivityTimeoutSeconds: 20,
				ForceNonInteractive:      true,
				ReactCompiler:            "no",
			},
			Images:         ImageSettings{Model: DefaultImageModel, Concurrency: 4},
			WebSearchModel: DefaultWebSearchModel,
			Deploy:         DeploySettings{Endpoint: DefaultDeployEndpoint, APIKeyEnv: DefaultDeployKeyEnv},
			MCPTimeout:     15 * time.Second,
			LogLevel:       "info",
			LogFormat:      "text",
		},
	}
}
