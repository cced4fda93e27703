package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/go-shellwords"
	"github.com/charmbracelet/x/exp/ordered"
	"github.com/openai/openai-go/v2/option"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/fantasybridge"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/stream"
)

// ClientFactory creates the stream client for a provider configuration.
type ClientFactory func(fantasybridge.Config) (stream.Client, error)

// Service resolves models and providers and starts streams.
//
// It is UI-agnostic and used by both the TUI and headless commands.
type Service struct {
	cfg        *config.Config
	log        logging.Logger
	newClient  ClientFactory
	retryDelay time.Duration
}

// NewService creates an agent service.
func NewService(cfg *config.Config, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		cfg:        cfg,
		log:        log,
		newClient:  NewFantasyClient,
		retryDelay: time.Second,
	}
}

// StreamRequest describes one completion for an agent.
type StreamRequest struct {
	Agent   Agent
	System  string
	History []proto.Message
	Prompt  string
	Tools   []proto.ToolDefinition
	Caller  proto.ToolCaller
	// Model overrides the agent's model, e.g. with a fallback.
	Model string
}

// StreamStart contains the stream plus metadata about the resolved request.
type StreamStart struct {
	Stream   stream.Stream
	Model    config.Model
	Messages []proto.Message
}

// Stream starts a streaming completion for req.
func (s *Service) Stream(ctx context.Context, req StreamRequest) (StreamStart, error) {
	cfg := s.cfg

	api, mod, err := resolveModel(
		cfg.APIs,
		ordered.First(req.Agent.API, cfg.API),
		ordered.First(req.Model, req.Agent.Model, cfg.Model),
	)
	if err != nil {
		return StreamStart{}, err
	}

	providerCfg, err := prepareProviderConfig(ctx, mod, api)
	if err != nil {
		return StreamStart{}, err
	}
	if err := ApplyProxyConfig(cfg.HTTPProxy, &providerCfg); err != nil {
		return StreamStart{}, err
	}

	if mod.MaxChars == 0 {
		mod.MaxChars = cfg.MaxInputChars
	}

	prompt := req.Prompt
	if prefix := cfg.Prefix; prefix != "" && prompt != "" {
		prompt = strings.TrimSpace(prefix + "\n\n" + prompt)
	}
	if !cfg.NoLimit && mod.MaxChars > 0 {
		prompt = truncate(prompt, mod.MaxChars)
	}
	messages := buildMessages(req.System, req.History, prompt)

	request := proto.Request{
		Messages:    messages,
		API:         mod.API,
		Model:       mod.Name,
		User:        ordered.First(api.User, cfg.User),
		Temperature: nonNegative(cfg.Temperature),
		TopP:        nonNegative(cfg.TopP),
		TopK:        nonNegative(cfg.TopK),
		Stop:        cfg.Stop,
		Tools:       req.Tools,
		Reasoning:   req.Agent.Reasoning,
		ToolCaller:  req.Caller,
	}
	if cfg.MaxTokens > 0 {
		request.MaxTokens = &cfg.MaxTokens
	}
	if cfg.MaxCompletionTokens > 0 {
		request.MaxCompletionTokens = &cfg.MaxCompletionTokens
	}

	client, err := s.newClient(providerCfg)
	if err != nil {
		return StreamStart{}, err
	}

	s.log.Debug("llm.call.start", "agent", req.Agent.Name, "model", mod.Name, "api", mod.API, "messages", len(messages), "tools", len(req.Tools))
	st := client.Request(ctx, request)
	return StreamStart{Stream: st, Model: mod, Messages: messages}, nil
}

// buildMessages puts the system prompt first, then history without its
// system messages, then the prompt. An empty prompt continues history.
// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int64) string {
	if int64(len(s)) <= n {
		return s
	}
	i := int(n)
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

func buildMessages(system string, history []proto.Message, prompt string) []proto.Message {
	messages := make([]proto.Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, proto.Message{Role: proto.RoleSystem, Content: system})
	}
	for _, msg := range history {
		if msg.Role == proto.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}
	if prompt != "" {
		messages = append(messages, proto.Message{Role: proto.RoleUser, Content: prompt})
	}
	return messages
}

func nonNegative[T float64 | int64](v T) *T {
	if v < 0 {
		return nil
	}
	return &v
}

// resolveModel finds model in the configured APIs. An API without a settings
// entry is used as is, with model passed through.
func resolveModel(apis config.APIs, apiName, model string) (config.API, config.Model, error) {
	for _, api := range apis {
		if api.Name != apiName && apiName != "" {
			continue
		}
		name := model
		for n, mod := range api.Models {
			if n == model || slices.Contains(mod.Aliases, model) {
				name = n
				break
			}
		}
		mod, ok := api.Models[name]
		if ok {
			mod.Name = name
			mod.API = api.Name
			return api, mod, nil
		}
		if apiName != "" {
			available := make([]string, 0, len(api.Models))
			for name := range api.Models {
				available = append(available, name)
			}
			slices.Sort(available)
			return config.API{}, config.Model{}, errs.Error{
				Err:    errs.UserErrorf("Available models are: %s", strings.Join(available, ", ")),
				Reason: fmt.Sprintf("The API endpoint %s does not contain the model %s", apiName, model),
			}
		}
	}

	if apiName != "" && model != "" {
		return config.API{Name: apiName}, config.Model{Name: model, API: apiName}, nil
	}

	return config.API{}, config.Model{}, errs.Error{
		Reason: fmt.Sprintf("Model %s is not in the settings file.", model),
		Err:    errs.UserErrorf("Please specify an API endpoint with --api or configure the model in the settings: codingagency config edit"),
	}
}

func prepareProviderConfig(ctx context.Context, mod config.Model, api config.API) (fantasybridge.Config, error) {
	switch mod.API {
	case "openrouter":
		key, err := ensureKey(ctx, api, "OPENROUTER_API_KEY", "https://openrouter.ai/keys")
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "OpenRouter authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	case "vercel":
		key, err := ensureKey(ctx, api, "VERCEL_API_KEY", "https://vercel.com/dashboard/tokens")
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Vercel AI Gateway authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	case "bedrock":
		key, err := optionalKey(ctx, api)
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Bedrock authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	case "ollama":
		baseURL := api.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return fantasybridge.Config{API: mod.API, BaseURL: baseURL}, nil
	case "azure", "azure-ad":
		key, err := ensureKey(ctx, api, "AZURE_OPENAI_KEY", "https://aka.ms/oai/access")
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Azure authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	case "anthropic":
		key, err := ensureKey(ctx, api, "ANTHROPIC_API_KEY", "https://console.anthropic.com/settings/keys")
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Anthropic authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	case "google":
		key, err := ensureKey(ctx, api, "GOOGLE_API_KEY", "https://aistudio.google.com/app/apikey")
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Google authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	default:
		key, err := ensureKey(ctx, api, "OPENAI_API_KEY", "https://platform.openai.com/account/api-keys")
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "OpenAI authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	}
}

// ApplyProxyConfig configures the provider HTTP client to use an HTTP proxy.
func ApplyProxyConfig(httpProxy string, providerCfg *fantasybridge.Config) error {
	client, err := proxyClient(httpProxy)
	if err != nil {
		return err
	}
	if client != nil {
		providerCfg.HTTPClient = client
	}
	return nil
}

func proxyClient(httpProxy string) (*http.Client, error) {
	if httpProxy == "" {
		return nil, nil
	}
	proxyURL, err := url.Parse(httpProxy)
	if err != nil {
		return nil, errs.Error{Err: err, Reason: "There was an error parsing your proxy URL."}
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errs.Error{Err: fmt.Errorf("default transport is not *http.Transport"), Reason: "Could not configure proxy."}
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxyURL)
	tr.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second
	tr.IdleConnTimeout = 90 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second
	return &http.Client{Transport: tr}, nil
}

// OpenAIOptions returns the request options the hosted tools (image
// generation, web search) use to reach the openai API entry of cfg.
// Without a key the SDK falls back to OPENAI_API_KEY.
func OpenAIOptions(ctx context.Context, cfg *config.Config) ([]option.RequestOption, error) {
	var api config.API
	for _, a := range cfg.APIs {
		if a.Name == "openai" {
			api = a
			break
		}
	}
	var opts []option.RequestOption
	key, err := optionalKey(ctx, api)
	if err != nil {
		return nil, errs.Error{Err: err, Reason: "OpenAI authentication failed"}
	}
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if api.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(api.BaseURL, "/")+"/"))
	}
	client, err := proxyClient(cfg.HTTPProxy)
	if err != nil {
		return nil, err
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return opts, nil
}

// NewFantasyClient creates the fantasy bridge client.
func NewFantasyClient(cfg fantasybridge.Config) (stream.Client, error) {
	if cfg.API == "" {
		return nil, errs.Error{Reason: "missing fantasy provider configuration"}
	}
	client, err := fantasybridge.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("new fantasy bridge client: %w", err)
	}
	return client, nil
}

func ensureKey(ctx context.Context, api config.API, defaultEnv, docsURL string) (string, error) {
	key, err := optionalKey(ctx, api)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = os.Getenv(defaultEnv)
	}
	if key != "" {
		return key, nil
	}
	return "", errs.Error{
		Reason: fmt.Sprintf("%s required; set %s or update codingagency.yml through codingagency config edit.", defaultEnv, defaultEnv),
		Err:    errs.UserErrorf("You can grab one at %s", docsURL),
	}
}

func optionalKey(ctx context.Context, api config.API) (string, error) {
	key := api.APIKey
	if key == "" && api.APIKeyEnv != "" && api.APIKeyCmd == "" {
		key = os.Getenv(api.APIKeyEnv)
	}
	if key == "" && api.APIKeyCmd != "" {
		args, err := shellwords.Parse(api.APIKeyCmd)
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Failed to parse api-key-cmd"}
		}
		if len(args) == 0 {
			return "", errs.Error{Reason: "api-key-cmd is empty"}
		}
		// #nosec G204 -- api-key-cmd is explicitly configured by the local user.
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Cannot exec api-key-cmd"}
		}
		key = strings.TrimSpace(string(out))
	}
	return key, nil
}
