package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codingagency/internal/agent"
	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/tools/plan"
)

type senderFunc func(ctx context.Context, a agent.Agent, history []proto.Message, prompt string, h agent.Handler) (agent.Response, error)

func (f senderFunc) Send(ctx context.Context, a agent.Agent, history []proto.Message, prompt string, h agent.Handler) (agent.Response, error) {
	return f(ctx, a, history, prompt, h)
}

func newTestChat(opts ChatOptions, mods ...func(*Chat)) *Chat {
	r := lipgloss.DefaultRenderer()
	cfg := &config.Config{
		Settings: config.Settings{
			WordWrap:   80,
			MaxRetries: 3,
			Quiet:      true,
		},
	}
	if opts.Agent.Name == "" {
		opts.Agent = agent.Agent{Name: "CodingAgent"}
	}
	c := NewChat(context.Background(), r, cfg, opts)
	for _, m := range mods {
		m(c)
	}
	// Simulate a window size so View doesn't short-circuit.
	c.width = 80
	c.height = 24
	c.viewport.Width = 80
	c.viewport.Height = 22
	return c
}

// runTurn starts a turn and feeds its events back into the model until the
// turn is done.
func runTurn(t *testing.T, c *Chat, prompt string) {
	t.Helper()
	c.state = chatStreamState
	_ = c.startTurnCmd(prompt)()
	for {
		msg := c.listen()()
		require.NotNil(t, msg)
		c.Update(msg)
		if _, ok := msg.(chatTurnDoneMsg); ok {
			return
		}
	}
}

func TestChatKeys(t *testing.T) {
	for _, input := range []string{"/exit", "/quit"} {
		t.Run(input, func(t *testing.T) {
			c := newTestChat(ChatOptions{})
			c.input.SetValue(input)
			_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
			require.NotNil(t, cmd)
			require.IsType(t, tea.QuitMsg{}, cmd())
		})
	}

	t.Run("ctrl+c while idle quits", func(t *testing.T) {
		c := newTestChat(ChatOptions{})
		_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		require.NotNil(t, cmd)
		require.IsType(t, tea.QuitMsg{}, cmd())
	})

	t.Run("ctrl+c while streaming cancels", func(t *testing.T) {
		c := newTestChat(ChatOptions{})
		c.state = chatStreamState
		m, cmd := c.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		require.Equal(t, chatInputState, m.(*Chat).state)
		require.Nil(t, cmd)
		require.True(t, c.canceled)
	})

	for _, input := range []string{"", "   "} {
		t.Run("blank input "+strings.TrimSpace(input), func(t *testing.T) {
			c := newTestChat(ChatOptions{})
			c.input.SetValue(input)
			m, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
			require.Equal(t, chatInputState, m.(*Chat).state)
			require.Nil(t, cmd)
		})
	}

	t.Run("enter submits", func(t *testing.T) {
		c := newTestChat(ChatOptions{})
		c.input.SetValue("  fix the tests ")
		_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.NotNil(t, cmd)
		require.Equal(t, chatSubmitMsg{prompt: "fix the tests"}, cmd())
		require.Empty(t, c.input.Value())
	})
}

func TestChatSubmit(t *testing.T) {
	c := newTestChat(ChatOptions{})
	m, cmd := c.Update(chatSubmitMsg{prompt: "hello"})
	chat := m.(*Chat)
	require.Equal(t, chatStreamState, chat.state)
	require.NotNil(t, cmd)
	require.Len(t, chat.entries, 1)
	require.Equal(t, entryPrompt, chat.entries[0].kind)
	require.False(t, chat.waitingSince.IsZero())
}

func TestChatInitialPrompt(t *testing.T) {
	c := newTestChat(ChatOptions{Prompt: "hello world"})
	require.NotNil(t, c.Init())
}

func TestChatHistoryEntries(t *testing.T) {
	c := newTestChat(ChatOptions{History: []proto.Message{
		{Role: proto.RoleUser, Content: "hi"},
		{Role: proto.RoleAssistant, ToolCalls: []proto.ToolCall{{ID: "1"}}},
		{Role: proto.RoleTool, Content: "output"},
		{Role: proto.RoleAssistant, Content: "hello"},
	}})
	require.Len(t, c.entries, 2)
	require.Equal(t, entryPrompt, c.entries[0].kind)
	require.Equal(t, entryAnswer, c.entries[1].kind)
	require.Equal(t, "hello", c.entries[1].text)
}

func TestChatTurn(t *testing.T) {
	tracker := plan.NewTracker()
	var saved []proto.Message
	sender := senderFunc(func(_ context.Context, a agent.Agent, history []proto.Message, prompt string, h agent.Handler) (agent.Response, error) {
		require.Equal(t, "CodingAgent", a.Name)
		require.Equal(t, "add a test", prompt)
		h.OnChunk(proto.Chunk{Reasoning: "thinking"})
		h.OnChunk(proto.Chunk{Content: "Let me "})
		h.OnChunk(proto.Chunk{Content: "look."})
		require.NoError(t, tracker.Update(plan.Plan{Steps: []plan.Step{
			{Step: "write test", Status: plan.StatusInProgress},
		}}))
		h.OnToolCall(proto.ToolCallStatus{Name: "shell", Args: []byte(`{"commands":["go test ./..."]}`)})
		h.OnChunk(proto.Chunk{Content: "Done."})
		msgs := append(history,
			proto.Message{Role: proto.RoleUser, Content: prompt},
			proto.Message{Role: proto.RoleAssistant, Content: "Done."},
		)
		return agent.Response{Text: "Done.", Messages: msgs}, nil
	})

	c := newTestChat(ChatOptions{
		Sender:  sender,
		Tracker: tracker,
		Save: func(msgs []proto.Message) error {
			saved = msgs
			return nil
		},
	})
	c.entries = append(c.entries, entry{kind: entryPrompt, text: "add a test"})
	runTurn(t, c, "add a test")

	require.Equal(t, chatInputState, c.state)
	require.False(t, c.running)
	require.Len(t, c.history, 2)
	require.Equal(t, c.history, saved)
	require.Equal(t, c.history, c.Messages())

	kinds := make([]entryKind, 0, len(c.entries))
	for _, e := range c.entries {
		require.False(t, e.open)
		kinds = append(kinds, e.kind)
	}
	require.Equal(t, []entryKind{entryPrompt, entryReasoning, entryAnswer, entryTool, entryAnswer}, kinds)
	require.Equal(t, "Let me look.", c.entries[2].text)
	require.Contains(t, c.entries[3].text, "go test ./...")

	require.Len(t, c.plan.Steps, 1)
	require.Contains(t, c.View(), "write test")
}

func TestChatTurnError(t *testing.T) {
	saves := 0
	c := newTestChat(ChatOptions{
		Sender: senderFunc(func(context.Context, agent.Agent, []proto.Message, string, agent.Handler) (agent.Response, error) {
			return agent.Response{}, errors.New("boom")
		}),
		History: []proto.Message{{Role: proto.RoleUser, Content: "before"}},
		Save: func([]proto.Message) error {
			saves++
			return nil
		},
	})
	runTurn(t, c, "hi")

	require.Zero(t, saves)
	require.Len(t, c.history, 1)
	last := c.entries[len(c.entries)-1]
	require.Equal(t, entryNotice, last.kind)
	require.Equal(t, "Error: boom", last.text)
}

func TestChatTurnCanceled(t *testing.T) {
	started := make(chan struct{})
	c := newTestChat(ChatOptions{
		Sender: senderFunc(func(ctx context.Context, _ agent.Agent, _ []proto.Message, _ string, h agent.Handler) (agent.Response, error) {
			close(started)
			<-ctx.Done()
			return agent.Response{Messages: []proto.Message{{Role: proto.RoleUser, Content: "partial"}}}, ctx.Err()
		}),
	})

	c.state = chatStreamState
	_ = c.startTurnCmd("hi")()
	<-started
	c.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.Equal(t, chatInputState, c.state)
	require.True(t, c.running)

	msg := c.listen()()
	require.IsType(t, chatTurnDoneMsg{}, msg)
	c.Update(msg)
	require.False(t, c.running)
	require.False(t, c.canceled)
	require.Empty(t, c.history)
	require.Equal(t, "Canceled.", c.entries[len(c.entries)-1].text)
}

func TestChatWaitingStatus(t *testing.T) {
	t.Run("view before first chunk", func(t *testing.T) {
		c := newTestChat(ChatOptions{})
		c.state = chatStreamState
		c.waitingSince = time.Now().Add(-3 * time.Second)
		c.refreshViewport()
		require.Contains(t, c.View(), "Waiting for response...")
	})

	t.Run("elapsed clock", func(t *testing.T) {
		c := newTestChat(ChatOptions{})
		now := time.Date(2026, time.February, 16, 12, 0, 0, 0, time.UTC)
		c.waitingSince = now.Add(-(1*time.Minute + 15*time.Second))
		require.Contains(t, c.waitingStatus(now), "[01:15]")
	})

	t.Run("working after first chunk", func(t *testing.T) {
		c := newTestChat(ChatOptions{})
		require.Contains(t, c.waitingStatus(time.Now()), "Working...")
	})
}

func TestFormatElapsedClock(t *testing.T) {
	require.Equal(t, "00:00", formatElapsedClock(0))
	require.Equal(t, "00:59", formatElapsedClock(59*time.Second))
	require.Equal(t, "01:00:05", formatElapsedClock(time.Hour+5*time.Second))
}
