package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/fantasybridge"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/stream"
	"github.com/dotcommander/codingagency/internal/tools"
)

// fakeStep is one scripted model step: text deltas, then tool calls.
type fakeStep struct {
	text  []string
	calls []proto.ToolCall
	err   error
}

// fakeClient hands out one script per request.
type fakeClient struct {
	mu       sync.Mutex
	scripts  [][]fakeStep
	requests []proto.Request
}

func (c *fakeClient) Request(ctx context.Context, req proto.Request) stream.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	var steps []fakeStep
	if len(c.scripts) > 0 {
		steps, c.scripts = c.scripts[0], c.scripts[1:]
	}
	return &fakeStream{
		ctx:      ctx,
		req:      req,
		steps:    steps,
		messages: append([]proto.Message(nil), req.Messages...),
	}
}

type fakeStream struct {
	ctx      context.Context
	req      proto.Request
	steps    []fakeStep
	step     int
	pos      int
	done     bool
	pending  []proto.ToolCall
	messages []proto.Message
	err      error
}

func (s *fakeStream) Next() bool {
	if s.err != nil || s.step >= len(s.steps) {
		return false
	}
	if s.done {
		if len(s.pending) > 0 || s.messages[len(s.messages)-1].Role != proto.RoleTool {
			return false
		}
		s.step++
		s.pos = 0
		s.done = false
		if s.step >= len(s.steps) {
			return false
		}
	}
	st := s.steps[s.step]
	if st.err != nil {
		s.err = st.err
		return false
	}
	if s.pos < len(st.text) {
		s.pos++
		return true
	}
	s.messages = append(s.messages, proto.Message{
		Role:      proto.RoleAssistant,
		Content:   strings.Join(st.text, ""),
		ToolCalls: st.calls,
	})
	s.pending = st.calls
	s.done = true
	return false
}

func (s *fakeStream) Current() (proto.Chunk, error) {
	return proto.Chunk{Content: s.steps[s.step].text[s.pos-1]}, nil
}

func (s *fakeStream) Err() error                { return s.err }
func (s *fakeStream) Close() error              { return nil }
func (s *fakeStream) Messages() []proto.Message { return s.messages }
func (s *fakeStream) DrainWarnings() []string   { return nil }

func (s *fakeStream) CallTools() []proto.ToolCallStatus {
	statuses := make([]proto.ToolCallStatus, 0, len(s.pending))
	for _, call := range s.pending {
		msg, status := stream.CallTool(s.ctx, call.ID, call.Function.Name, call.Function.Arguments, s.req.ToolCaller)
		s.messages = append(s.messages, msg)
		statuses = append(statuses, status)
	}
	s.pending = nil
	return statuses
}

func toolCall(id, name, args string) proto.ToolCall {
	return proto.ToolCall{ID: id, Function: proto.Function{Name: name, Arguments: []byte(args)}}
}

type echoArgs struct {
	Text string `json:"text"`
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(nil,
		tools.New("echo", "Echo text.", func(_ context.Context, args echoArgs) (string, error) {
			return args.Text, nil
		}),
		tools.New("fail", "Always fails.", func(context.Context, struct{}) (string, error) {
			return "", errors.New("boom")
		}),
		tools.New("hidden", "Not given to the agent.", func(context.Context, struct{}) (string, error) {
			return "secret", nil
		}),
	)
	require.NoError(t, err)
	return reg
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	instructions := filepath.Join(dir, "instructions.md")
	require.NoError(t, os.WriteFile(instructions, []byte("---\nname: coder\n---\nUse the tools.\n"), 0o600))

	cfg := config.Default()
	cfg.Agency.SharedInstructions = "Be brief."
	cfg.Agency.Entry = "Coder"
	cfg.Agents = map[string]config.AgentConfig{
		"Coder": {
			API:             "openai",
			Model:           "gpt-5.1-codex",
			Instructions:    instructions,
			Tools:           []string{"echo", "fail"},
			ReasoningEffort: "high",
		},
		"Reviewer": {
			API:          "openai",
			Model:        "gpt-5.1",
			Instructions: "Review the code.",
		},
	}
	cfg.APIs = config.APIs{{
		Name:   "openai",
		APIKey: "sk-test",
		Models: map[string]config.Model{
			"gpt-5.1-codex": {Fallback: "gpt-5.1"},
			"gpt-5.1":       {},
		},
	}}
	return &cfg
}

func testAgency(t *testing.T, cfg *config.Config, fc *fakeClient, opts ...Option) *Agency {
	t.Helper()
	opts = append(opts, WithClientFactory(func(fantasybridge.Config) (stream.Client, error) {
		return fc, nil
	}))
	a, err := NewAgency(cfg, testRegistry(t), opts...)
	require.NoError(t, err)
	a.service.retryDelay = 0
	return a
}

func TestNewAgency(t *testing.T) {
	t.Run("entry agent first", func(t *testing.T) {
		a := testAgency(t, testConfig(t), &fakeClient{})
		require.Len(t, a.Agents, 2)
		require.Equal(t, "Coder", a.Entry().Name)
		require.Equal(t, proto.Reasoning{Effort: "high"}, a.Entry().Reasoning)
		reviewer, ok := a.Agent("Reviewer")
		require.True(t, ok)
		require.Equal(t, "gpt-5.1", reviewer.Model)
		_, ok = a.Agent("Nobody")
		require.False(t, ok)
	})

	t.Run("unknown tool", func(t *testing.T) {
		cfg := testConfig(t)
		coder := cfg.Agents["Coder"]
		coder.Tools = []string{"echo", "nope"}
		cfg.Agents["Coder"] = coder

		_, err := NewAgency(cfg, testRegistry(t))
		var e errs.Error
		require.ErrorAs(t, err, &e)
		require.EqualError(t, err, `unknown tool "nope"`)
		require.Equal(t, "Agent Coder uses an unknown tool; available tools are echo, fail, and hidden.", e.Reason)
	})

	t.Run("unknown entry agent", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Agent = "Ghost"
		_, err := NewAgency(cfg, testRegistry(t))
		var e errs.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, "Agent Ghost is not configured.", e.Reason)
	})
}

func TestSystemPrompt(t *testing.T) {
	t.Run("shared first", func(t *testing.T) {
		a := testAgency(t, testConfig(t), &fakeClient{})
		prompt, err := a.SystemPrompt(a.Entry())
		require.NoError(t, err)
		require.Equal(t, "Be brief.\n\nUse the tools.", prompt)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := testConfig(t)
		coder := cfg.Agents["Coder"]
		coder.Instructions = filepath.Join(t.TempDir(), "missing.md")
		cfg.Agents["Coder"] = coder

		a := testAgency(t, cfg, &fakeClient{})
		prompt, err := a.SystemPrompt(a.Entry())
		require.NoError(t, err)
		require.Equal(t, "Be brief.", prompt)
	})

	t.Run("no shared instructions", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Agency.SharedInstructions = ""
		a := testAgency(t, cfg, &fakeClient{})
		reviewer, _ := a.Agent("Reviewer")
		prompt, err := a.SystemPrompt(reviewer)
		require.NoError(t, err)
		require.Equal(t, "Review the code.", prompt)
	})
}

func TestWatch(t *testing.T) {
	cfg := testConfig(t)
	a := testAgency(t, cfg, &fakeClient{})
	path := cfg.Agents["Coder"].Instructions

	prompt, err := a.SystemPrompt(a.Entry())
	require.NoError(t, err)
	require.Equal(t, "Be brief.\n\nUse the tools.", prompt)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, a.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("Edit files carefully.\n"), 0o600))
	require.Eventually(t, func() bool {
		prompt, err := a.SystemPrompt(a.Entry())
		return err == nil && prompt == "Be brief.\n\nEdit files carefully."
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSend(t *testing.T) {
	t.Run("tool loop", func(t *testing.T) {
		fc := &fakeClient{scripts: [][]fakeStep{{
			{text: []string{"Let me check."}, calls: []proto.ToolCall{
				toolCall("1", "echo", `{"text":"hi"}`),
				toolCall("2", "fail", `{}`),
				toolCall("3", "hidden", `{}`),
			}},
			{text: []string{"Done", "."}},
		}}}
		a := testAgency(t, testConfig(t), fc)

		var (
			chunks   []string
			statuses []proto.ToolCallStatus
		)
		resp, err := a.Send(context.Background(), a.Entry(), nil, "go", Handler{
			OnChunk:    func(c proto.Chunk) { chunks = append(chunks, c.Content) },
			OnToolCall: func(s proto.ToolCallStatus) { statuses = append(statuses, s) },
		})
		require.NoError(t, err)
		require.Equal(t, "Done.", resp.Text)
		require.Equal(t, "gpt-5.1-codex", resp.Model)
		require.Equal(t, 3, resp.ToolCalls)
		require.Equal(t, []string{"Let me check.", "Done", "."}, chunks)

		require.Len(t, statuses, 3)
		require.Equal(t, "hi", statuses[0].Result)
		require.EqualError(t, statuses[1].Err, "boom")
		require.True(t, errs.IsToolCode(statuses[2].Err, errs.CodeNotFound))

		require.Len(t, resp.Messages, 6)
		require.Equal(t, proto.RoleUser, resp.Messages[0].Role)
		require.Equal(t, proto.RoleTool, resp.Messages[2].Role)
		require.False(t, resp.Messages[2].ToolCalls[0].IsError)
		require.True(t, resp.Messages[3].ToolCalls[0].IsError)
		require.Equal(t, "boom", resp.Messages[3].Content)
		require.True(t, resp.Messages[4].ToolCalls[0].IsError)

		require.Len(t, fc.requests, 1)
		req := fc.requests[0]
		require.Equal(t, proto.RoleSystem, req.Messages[0].Role)
		require.Equal(t, "Be brief.\n\nUse the tools.", req.Messages[0].Content)
		require.Len(t, req.Tools, 2)
		require.Equal(t, "echo", req.Tools[0].Name)
		require.Equal(t, "fail", req.Tools[1].Name)
	})

	t.Run("max turns", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MaxTurns = 1
		fc := &fakeClient{scripts: [][]fakeStep{{
			{calls: []proto.ToolCall{toolCall("1", "echo", `{"text":"a"}`)}},
			{calls: []proto.ToolCall{toolCall("2", "echo", `{"text":"b"}`)}},
		}}}
		a := testAgency(t, cfg, fc)

		resp, err := a.Send(context.Background(), a.Entry(), nil, "loop", Handler{})
		require.ErrorIs(t, err, ErrMaxTurns)
		require.Equal(t, 1, resp.ToolCalls)
		require.Len(t, fc.requests, 1)
	})

	t.Run("fallback model on not found", func(t *testing.T) {
		fc := &fakeClient{scripts: [][]fakeStep{
			{{err: &fantasy.ProviderError{StatusCode: 404, Message: "model not found"}}},
			{{text: []string{"ok"}}},
		}}
		a := testAgency(t, testConfig(t), fc)

		var warnings []string
		resp, err := a.Send(context.Background(), a.Entry(), nil, "hi", Handler{
			OnWarning: func(w string) { warnings = append(warnings, w) },
		})
		require.NoError(t, err)
		require.Equal(t, "ok", resp.Text)
		require.Equal(t, "gpt-5.1", resp.Model)
		require.Len(t, fc.requests, 2)
		require.Equal(t, "gpt-5.1", fc.requests[1].Model)
		require.Len(t, warnings, 1)
	})

	t.Run("retry continues after tools", func(t *testing.T) {
		fc := &fakeClient{scripts: [][]fakeStep{
			{
				{calls: []proto.ToolCall{toolCall("1", "echo", `{"text":"a"}`)}},
				{err: &fantasy.ProviderError{StatusCode: 429, Message: "slow down"}},
			},
			{{text: []string{"finished"}}},
		}}
		a := testAgency(t, testConfig(t), fc)

		resp, err := a.Send(context.Background(), a.Entry(), nil, "hi", Handler{})
		require.NoError(t, err)
		require.Equal(t, "finished", resp.Text)
		require.Len(t, fc.requests, 2)

		retry := fc.requests[1].Messages
		require.Equal(t, proto.RoleTool, retry[len(retry)-1].Role)
		users := 0
		for _, msg := range retry {
			if msg.Role == proto.RoleUser {
				users++
			}
		}
		require.Equal(t, 1, users)
	})

	t.Run("no retry for other errors", func(t *testing.T) {
		fc := &fakeClient{scripts: [][]fakeStep{
			{{err: &fantasy.ProviderError{StatusCode: 401, Message: "bad key"}}},
		}}
		a := testAgency(t, testConfig(t), fc)

		_, err := a.Send(context.Background(), a.Entry(), nil, "hi", Handler{})
		var e errs.Error
		require.ErrorAs(t, err, &e)
		require.Len(t, fc.requests, 1)
	})
}

func TestGetResponse(t *testing.T) {
	history := []proto.Message{
		{Role: proto.RoleUser, Content: "earlier"},
		{Role: proto.RoleAssistant, Content: "hello"},
	}
	var saved []proto.Message
	fc := &fakeClient{scripts: [][]fakeStep{{{text: []string{"answer"}}}}}
	a := testAgency(t, testConfig(t), fc,
		WithThreadLoader(func(_ context.Context, id string) ([]proto.Message, error) {
			require.Equal(t, "thread-1", id)
			return history, nil
		}),
		WithThreadSaver(func(_ context.Context, id string, msgs []proto.Message) error {
			require.Equal(t, "thread-1", id)
			saved = msgs
			return nil
		}),
	)

	resp, err := a.GetResponse(context.Background(), "thread-1", "now")
	require.NoError(t, err)
	require.Equal(t, "answer", resp.Text)

	require.Len(t, fc.requests[0].Messages, 4)
	require.Len(t, saved, 4)
	require.Equal(t, "earlier", saved[0].Content)
	require.Equal(t, "now", saved[2].Content)
	require.Equal(t, "answer", saved[3].Content)
}

func TestGetResponseLoadError(t *testing.T) {
	a := testAgency(t, testConfig(t), &fakeClient{},
		WithThreadLoader(func(context.Context, string) ([]proto.Message, error) {
			return nil, errors.New("disk on fire")
		}),
	)
	_, err := a.GetResponse(context.Background(), "thread-1", "now")
	require.EqualError(t, err, "disk on fire")
}
