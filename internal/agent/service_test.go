package agent

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/fantasybridge"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/stream"
	"github.com/stretchr/testify/require"
)

func TestNewFantasyClientRouting(t *testing.T) {
	t.Run("azure returns fantasy client", func(t *testing.T) {
		client, err := NewFantasyClient(
			fantasybridge.Config{API: "azure", APIKey: "token", BaseURL: "https://example.openai.azure.com"},
		)
		require.NoError(t, err)
		require.NotNil(t, client)
	})

	t.Run("supported core provider returns fantasy client", func(t *testing.T) {
		client, err := NewFantasyClient(fantasybridge.Config{API: "openai"})
		require.NoError(t, err)
		require.NotNil(t, client)
	})

	t.Run("openai-compatible custom api returns fantasy client", func(t *testing.T) {
		client, err := NewFantasyClient(
			fantasybridge.Config{API: "deepseek", BaseURL: "https://api.deepseek.com"},
		)
		require.NoError(t, err)
		require.NotNil(t, client)
	})

	t.Run("ollama returns fantasy client without api key", func(t *testing.T) {
		client, err := NewFantasyClient(
			fantasybridge.Config{API: "ollama", BaseURL: "http://localhost:11434/v1"},
		)
		require.NoError(t, err)
		require.NotNil(t, client)
	})

	t.Run("missing provider config returns error", func(t *testing.T) {
		client, err := NewFantasyClient(fantasybridge.Config{})
		require.Error(t, err)
		require.Nil(t, client)
	})
}

func TestApplyProxyConfig(t *testing.T) {
	t.Run("proxy", func(t *testing.T) {
		providerCfg := fantasybridge.Config{}
		require.NoError(t, ApplyProxyConfig("http://127.0.0.1:8080", &providerCfg))
		require.NotNil(t, providerCfg.HTTPClient)
	})

	t.Run("no proxy", func(t *testing.T) {
		providerCfg := fantasybridge.Config{}
		require.NoError(t, ApplyProxyConfig("", &providerCfg))
		require.Nil(t, providerCfg.HTTPClient)
	})

	t.Run("bad proxy", func(t *testing.T) {
		providerCfg := fantasybridge.Config{}
		require.Error(t, ApplyProxyConfig("://nope", &providerCfg))
	})
}

func TestResolveModel(t *testing.T) {
	apis := config.APIs{
		{
			Name: "openai",
			Models: map[string]config.Model{
				"gpt-5.1-codex": {Aliases: []string{"codex"}, Fallback: "gpt-5.1"},
				"gpt-5.1":       {},
			},
		},
		{
			Name:   "anthropic",
			Models: map[string]config.Model{"claude-sonnet-4-5": {Aliases: []string{"sonnet"}}},
		},
	}

	t.Run("alias", func(t *testing.T) {
		api, mod, err := resolveModel(apis, "openai", "codex")
		require.NoError(t, err)
		require.Equal(t, "openai", api.Name)
		require.Equal(t, "gpt-5.1-codex", mod.Name)
		require.Equal(t, "gpt-5.1", mod.Fallback)
	})

	t.Run("any api", func(t *testing.T) {
		_, mod, err := resolveModel(apis, "", "sonnet")
		require.NoError(t, err)
		require.Equal(t, "anthropic", mod.API)
		require.Equal(t, "claude-sonnet-4-5", mod.Name)
	})

	t.Run("unknown model of known api", func(t *testing.T) {
		_, _, err := resolveModel(apis, "openai", "gpt-2")
		var e errs.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, "The API endpoint openai does not contain the model gpt-2", e.Reason)
		require.EqualError(t, err, "Available models are: gpt-5.1, gpt-5.1-codex")
	})

	t.Run("api without settings entry", func(t *testing.T) {
		api, mod, err := resolveModel(nil, "openai", "gpt-5.1-codex")
		require.NoError(t, err)
		require.Equal(t, "openai", api.Name)
		require.Equal(t, config.Model{Name: "gpt-5.1-codex", API: "openai"}, mod)
	})

	t.Run("unknown model of any api", func(t *testing.T) {
		_, _, err := resolveModel(apis, "", "gpt-2")
		require.Error(t, err)
	})
}

func TestBuildMessages(t *testing.T) {
	history := []proto.Message{
		{Role: proto.RoleSystem, Content: "old system"},
		{Role: proto.RoleUser, Content: "hi"},
		{Role: proto.RoleAssistant, Content: "hello"},
	}

	t.Run("system first and prompt last", func(t *testing.T) {
		require.Equal(t, []proto.Message{
			{Role: proto.RoleSystem, Content: "system"},
			{Role: proto.RoleUser, Content: "hi"},
			{Role: proto.RoleAssistant, Content: "hello"},
			{Role: proto.RoleUser, Content: "again"},
		}, buildMessages("system", history, "again"))
	})

	t.Run("empty prompt continues history", func(t *testing.T) {
		msgs := buildMessages("", history, "")
		require.Len(t, msgs, 2)
		require.Equal(t, proto.RoleAssistant, msgs[1].Role)
	})
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		n    int64
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 2, ""},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			require.Equal(t, tc.want, got)
			require.True(t, utf8.ValidString(got))
		})
	}
}

func TestStream(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := config.Default()
	cfg.Temperature = 0.2
	cfg.MaxTokens = 100
	fc := &fakeClient{scripts: [][]fakeStep{{{text: []string{"ok"}}}}}
	svc := NewService(&cfg, nil)
	svc.newClient = func(pc fantasybridge.Config) (stream.Client, error) {
		require.Equal(t, "openai", pc.API)
		require.Equal(t, "sk-test", pc.APIKey)
		return fc, nil
	}

	agent := Agent{
		Name:      "CodingAgent",
		API:       "openai",
		Model:     "gpt-5.1-codex",
		Reasoning: proto.Reasoning{Effort: "medium", Summary: "auto"},
	}
	start, err := svc.Stream(context.Background(), StreamRequest{Agent: agent, System: "be good", Prompt: "hi"})
	require.NoError(t, err)
	require.NotNil(t, start.Stream)
	require.Equal(t, "gpt-5.1-codex", start.Model.Name)

	require.Len(t, fc.requests, 1)
	req := fc.requests[0]
	require.Equal(t, "gpt-5.1-codex", req.Model)
	require.Equal(t, proto.Reasoning{Effort: "medium", Summary: "auto"}, req.Reasoning)
	require.Equal(t, 0.2, *req.Temperature)
	require.Nil(t, req.TopP)
	require.Nil(t, req.TopK)
	require.Equal(t, int64(100), *req.MaxTokens)
	require.Len(t, req.Messages, 2)
	require.Equal(t, proto.RoleSystem, req.Messages[0].Role)
}

func TestOpenAIOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := config.Default()
		cfg.MaxRetries = 0
		opts, err := OpenAIOptions(context.Background(), &cfg)
		require.NoError(t, err)
		require.Empty(t, opts)
	})

	t.Run("configured api", func(t *testing.T) {
		cfg := config.Default()
		cfg.HTTPProxy = "http://127.0.0.1:8080"
		cfg.APIs = config.APIs{{Name: "openai", APIKey: "sk-test", BaseURL: "https://example.com/v1"}}
		opts, err := OpenAIOptions(context.Background(), &cfg)
		require.NoError(t, err)
		require.Len(t, opts, 4)
	})
}
