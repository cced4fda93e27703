package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"charm.land/fantasy"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codingagency/internal/config"
)

var cutPromptTests = map[string]struct {
	msg      string
	prompt   string
	expected string
}{
	"no token counts cuts a quarter": {
		msg:      "Your input exceeds the context window of this model.",
		prompt:   "0123456789abcdef",
		expected: "0123456789ab",
	},
	"cut keeps runes whole": {
		msg:      "context_length_exceeded",
		prompt:   "ééé",
		expected: "éé",
	},
	"crazy error": {
		msg:      tokenErrMsg(10, 93),
		prompt:   "the prompt",
		expected: "the prompt",
	},
	"cut prompt": {
		msg:      tokenErrMsg(10, 3),
		prompt:   "this is a long prompt I have no idea if its really 10 tokens",
		expected: "this is a long prompt ",
	},
	"missmatch of token estimation vs api result": {
		msg:      tokenErrMsg(30000, 100),
		prompt:   "tell me a joke",
		expected: "tell me a joke",
	},
}

func tokenErrMsg(l, ml int) string {
	return fmt.Sprintf(
		`This model's maximum context length is %d tokens. However, your messages resulted in %d tokens`,
		ml,
		l,
	)
}

func TestCutPrompt(t *testing.T) {
	for name, tc := range cutPromptTests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, cutPrompt(tc.msg, tc.prompt))
		})
	}
}

func TestActionForStreamError(t *testing.T) {
	cfg := config.Default()
	svc := NewService(&cfg, nil)
	mod := config.Model{Name: "gpt-5.1-codex", API: "openai", Fallback: "gpt-5.1"}

	t.Run("not found uses fallback", func(t *testing.T) {
		action := svc.ActionForStreamError(&fantasy.ProviderError{StatusCode: 404}, mod, "hi")
		require.True(t, action.Retry)
		require.Equal(t, "gpt-5.1", action.ModelOverride)
		require.Equal(t, "hi", action.Prompt)
	})

	t.Run("not found without fallback", func(t *testing.T) {
		action := svc.ActionForStreamError(&fantasy.ProviderError{StatusCode: 404}, config.Model{Name: "gpt-2", API: "openai"}, "hi")
		require.False(t, action.Retry)
		require.Equal(t, "Missing model 'gpt-2' for API 'openai'.", action.Err.Reason)
	})

	t.Run("context length cuts the prompt", func(t *testing.T) {
		err := &fantasy.ProviderError{
			StatusCode: 400,
			Message:    "context_length_exceeded: " + tokenErrMsg(10, 3),
		}
		action := svc.ActionForStreamError(err, mod, "this is a long prompt I have no idea if its really 10 tokens")
		require.True(t, action.Retry)
		require.Equal(t, "Maximum prompt size exceeded.", action.Err.Reason)
	})

	t.Run("responses api context window", func(t *testing.T) {
		err := &fantasy.ProviderError{
			StatusCode:   400,
			Message:      "Your input exceeds the context window of this model.",
			ResponseBody: []byte(`{"error":{"code":"context_length_exceeded"}}`),
		}
		action := svc.ActionForStreamError(err, mod, "0123456789abcdef")
		require.True(t, action.Retry)
		require.Equal(t, "0123456789ab", action.Prompt)
	})

	t.Run("context length with no limit does not retry", func(t *testing.T) {
		noLimit := config.Default()
		noLimit.NoLimit = true
		err := &fantasy.ProviderError{StatusCode: 400, Message: "context_length_exceeded"}
		action := NewService(&noLimit, nil).ActionForStreamError(err, mod, "0123456789abcdef")
		require.False(t, action.Retry)
		require.Equal(t, "Maximum prompt size exceeded.", action.Err.Reason)
	})

	t.Run("unauthorized", func(t *testing.T) {
		action := svc.ActionForStreamError(&fantasy.ProviderError{StatusCode: 401}, mod, "hi")
		require.False(t, action.Retry)
		require.Equal(t, "The openai API rejected the API key.", action.Err.Reason)
	})

	t.Run("canceled", func(t *testing.T) {
		action := svc.ActionForStreamError(fmt.Errorf("stream: %w", context.Canceled), mod, "hi")
		require.False(t, action.Retry)
		require.Equal(t, "Request canceled.", action.Err.Reason)
	})

	t.Run("other", func(t *testing.T) {
		action := svc.ActionForStreamError(errors.New("connection reset"), mod, "hi")
		require.False(t, action.Retry)
		require.Equal(t, "There was a problem with the openai API request.", action.Err.Reason)
	})
}
