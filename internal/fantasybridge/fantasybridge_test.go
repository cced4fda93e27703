//go:build !codingagency_small

package fantasybridge

import (
	"context"
	"errors"
	"testing"

	"charm.land/fantasy"
	fopenai "charm.land/fantasy/providers/openai"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/stream"
)

func TestNewProviders(t *testing.T) {
	for _, api := range []string{"openai", "anthropic", "azure-ad", "openrouter", "deepseek"} {
		t.Run(api, func(t *testing.T) {
			client, err := New(Config{
				API:     api,
				APIKey:  "token",
				BaseURL: "https://example.openai.azure.com",
			})
			require.NoError(t, err)
			require.NotNil(t, client)
		})
	}
	require.Contains(t, Providers(), "openai")
	require.NotContains(t, Providers(), "deepseek")
}

func TestBuildCallResponsesOptions(t *testing.T) {
	t.Run("no options", func(t *testing.T) {
		s := &Stream{api: "openai"}
		call := s.buildCall()
		require.Empty(t, call.ProviderOptions)
	})

	t.Run("reasoning and user", func(t *testing.T) {
		s := &Stream{
			api: "openai",
			request: proto.Request{
				User:      "alice",
				Reasoning: proto.Reasoning{Effort: "medium", Summary: "auto"},
			},
		}

		call := s.buildCall()
		v, ok := call.ProviderOptions[fopenai.Name]
		require.True(t, ok)
		opts, ok := v.(*fopenai.ResponsesProviderOptions)
		require.True(t, ok)
		require.Equal(t, "alice", *opts.User)
		require.Equal(t, fopenai.ReasoningEffortMedium, *opts.ReasoningEffort)
		require.Equal(t, "auto", *opts.ReasoningSummary)
	})

	t.Run("max completion tokens become output tokens", func(t *testing.T) {
		tokens := int64(321)
		s := &Stream{api: "openai", request: proto.Request{MaxCompletionTokens: &tokens}}
		call := s.buildCall()
		require.NotNil(t, call.MaxOutputTokens)
		require.EqualValues(t, 321, *call.MaxOutputTokens)
		require.Empty(t, call.ProviderOptions)
	})
}

func TestBuildCallChatOptions(t *testing.T) {
	tokens := int64(321)

	t.Run("azure uses chat options", func(t *testing.T) {
		s := &Stream{
			api:     "azure",
			request: proto.Request{User: "dana", MaxCompletionTokens: &tokens},
		}

		call := s.buildCall()
		v, ok := call.ProviderOptions[fopenai.Name]
		require.True(t, ok)
		opts, ok := v.(*fopenai.ProviderOptions)
		require.True(t, ok)
		require.Equal(t, "dana", *opts.User)
		require.EqualValues(t, 321, *opts.MaxCompletionTokens)
	})

	t.Run("custom openai-compatible user propagates to compat options", func(t *testing.T) {
		s := &Stream{
			api:     "deepseek",
			request: proto.Request{User: "bob", MaxCompletionTokens: &tokens},
		}

		call := s.buildCall()
		v, ok := call.ProviderOptions[fopenaicompat.Name]
		require.True(t, ok)
		opts, ok := v.(*fopenaicompat.ProviderOptions)
		require.True(t, ok)
		require.Equal(t, "bob", *opts.User)
	})

	t.Run("google does not attach user provider option", func(t *testing.T) {
		s := &Stream{api: "google", request: proto.Request{User: "carol"}}

		call := s.buildCall()
		require.Empty(t, call.ProviderOptions)
	})
}

// newTestStream builds a stream whose current step replays parts.
func newTestStream(t *testing.T, caller proto.ToolCaller, parts ...fantasy.StreamPart) *Stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := make(chan fantasy.StreamPart, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return &Stream{
		ctx:              ctx,
		cancel:           cancel,
		request:          proto.Request{ToolCaller: caller},
		messages:         []proto.Message{{Role: proto.RoleUser, Content: "hi"}},
		partCh:           ch,
		stepToolCallSeen: map[string]struct{}{},
		warningSeen:      map[string]struct{}{},
	}
}

func TestStreamStep(t *testing.T) {
	var called []string
	caller := func(_ context.Context, name string, data []byte) (string, error) {
		called = append(called, name+":"+string(data))
		if name == "broken" {
			return "", errors.New("nope")
		}
		return "ok", nil
	}
	s := newTestStream(t, caller,
		fantasy.StreamPart{Type: fantasy.StreamPartTypeReasoningDelta, Delta: "thinking"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "Hel"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "lo"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "tc_1", ToolCallName: "shell", ToolCallInput: `{"commands":["ls"]}`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "tc_1", ToolCallName: "shell", ToolCallInput: `{"commands":["ls"]}`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "tc_2", ToolCallName: "broken", ToolCallInput: `{}`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeFinish},
	)

	var content, reasoning string
	for s.Next() {
		chunk, err := s.Current()
		if errors.Is(err, stream.ErrNoContent) {
			continue
		}
		content += chunk.Content
		reasoning += chunk.Reasoning
	}
	require.NoError(t, s.Err())
	require.Equal(t, "Hello", content)
	require.Equal(t, "thinking", reasoning)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello", msgs[1].Content)
	require.Equal(t, "thinking", msgs[1].Reasoning)
	require.Len(t, msgs[1].ToolCalls, 2)

	// the step stays finished until its tools ran
	require.False(t, s.Next())

	statuses := s.CallTools()
	require.Len(t, statuses, 2)
	require.Equal(t, []string{`shell:{"commands":["ls"]}`, "broken:{}"}, called)
	require.NoError(t, statuses[0].Err)
	require.EqualError(t, statuses[1].Err, "nope")

	msgs = s.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, proto.RoleTool, msgs[3].Role)
	require.True(t, msgs[3].ToolCalls[0].IsError)
	require.True(t, s.awaitingFollowUp())
}

func TestStreamStepWithoutTools(t *testing.T) {
	s := newTestStream(t, nil, fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "done"})
	for s.Next() {
	}
	require.False(t, s.Next())
	require.Empty(t, s.CallTools())
	require.False(t, s.awaitingFollowUp())
}

func TestStreamError(t *testing.T) {
	s := newTestStream(t, nil, fantasy.StreamPart{Type: fantasy.StreamPartTypeError, Error: errors.New("rate limited")})
	require.True(t, s.Next())
	_, err := s.Current()
	require.EqualError(t, err, "rate limited")
	require.False(t, s.Next())
	require.EqualError(t, s.Err(), "rate limited")
}

func TestConsumePartSkipsProviderExecutedToolCalls(t *testing.T) {
	s := &Stream{stepToolCallSeen: map[string]struct{}{}}

	s.consumePart(fantasy.StreamPart{
		Type:             fantasy.StreamPartTypeToolCall,
		ID:               "tc_1",
		ToolCallName:     "tool",
		ToolCallInput:    "{}",
		ProviderExecuted: true,
	})

	require.Empty(t, s.stepToolCalls)
}

func TestDrainWarningsDeduplicates(t *testing.T) {
	s := &Stream{warningSeen: map[string]struct{}{}}

	s.consumePart(fantasy.StreamPart{
		Type: fantasy.StreamPartTypeWarnings,
		Warnings: []fantasy.CallWarning{
			{Type: fantasy.CallWarningTypeUnsupportedSetting, Setting: "top_k", Message: "unsupported setting: top_k"},
			{Type: fantasy.CallWarningTypeUnsupportedSetting, Setting: "top_k", Message: "unsupported setting: top_k"},
			{Type: fantasy.CallWarningTypeUnsupportedSetting, Setting: "temperature"},
		},
	})

	warnings := s.DrainWarnings()
	require.Equal(t, []string{"unsupported setting: top_k", "unsupported setting: temperature"}, warnings)
	require.Empty(t, s.DrainWarnings())
}
