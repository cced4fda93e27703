package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dotcommander/codingagency/internal/agent"
	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/tools/plan"
)

type chatState int

const (
	chatInputState chatState = iota
	chatStreamState
)

// Sender runs one turn of an agent.
type Sender interface {
	Send(ctx context.Context, a agent.Agent, history []proto.Message, prompt string, h agent.Handler) (agent.Response, error)
}

// SaveFn persists conversation messages after each turn.
type SaveFn func([]proto.Message) error

// ChatOptions configure a chat session.
type ChatOptions struct {
	Sender  Sender
	Agent   agent.Agent
	Tracker *plan.Tracker
	History []proto.Message
	Save    SaveFn
	// Prompt is submitted as soon as the session starts.
	Prompt string
}

type entryKind int

const (
	entryPrompt entryKind = iota
	entryAnswer
	entryReasoning
	entryTool
	entryNotice
)

type entry struct {
	kind     entryKind
	text     string
	open     bool
	rendered string
}

// Chat is the Bubble Tea model for the interactive terminal session.
type Chat struct {
	state    chatState
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	md       *present.Markdown
	renderer *lipgloss.Renderer
	styles   present.Styles

	entries []entry
	plan    plan.Plan

	sender  Sender
	agent   agent.Agent
	history []proto.Message
	saveFn  SaveFn
	cfg     *config.Config
	ctx     context.Context
	events  chan tea.Msg

	running  bool
	canceled bool
	cancel   context.CancelFunc

	width  int
	height int

	renderScheduled bool
	dirtyOutput     bool
	initialPrompt   string
	waitingSince    time.Time
}

// NewChat creates the Bubble Tea model for interactive chat.
func NewChat(ctx context.Context, r *lipgloss.Renderer, cfg *config.Config, opts ChatOptions) *Chat {
	md, _ := present.NewMarkdown(cfg.WordWrap)

	styles := present.MakeStyles(r)

	ti := textinput.New()
	ti.Prompt = styles.Pipe.Render("❯ ")
	ti.Placeholder = "Ask " + agentName(opts.Agent) + " anything, /exit to quit"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(styles.CyclingChars))

	vp := viewport.New(0, 0)
	vp.GotoBottom()

	c := &Chat{
		state:         chatInputState,
		input:         ti,
		viewport:      vp,
		spinner:       sp,
		md:            md,
		renderer:      r,
		styles:        styles,
		sender:        opts.Sender,
		agent:         opts.Agent,
		history:       opts.History,
		saveFn:        opts.Save,
		cfg:           cfg,
		ctx:           ctx,
		events:        make(chan tea.Msg, 64),
		initialPrompt: opts.Prompt,
	}

	for _, msg := range opts.History {
		switch {
		case msg.Role == proto.RoleUser && msg.Content != "":
			c.entries = append(c.entries, entry{kind: entryPrompt, text: msg.Content})
		case msg.Role == proto.RoleAssistant && msg.Content != "":
			c.entries = append(c.entries, entry{kind: entryAnswer, text: msg.Content})
		}
	}

	if opts.Tracker != nil {
		c.plan = opts.Tracker.Current()
		opts.Tracker.Subscribe(func(p plan.Plan) {
			c.post(chatPlanMsg{plan: p})
		})
	}
	return c
}

func agentName(a agent.Agent) string {
	if a.Name == "" {
		return "the agent"
	}
	return a.Name
}

// chatSubmitMsg is sent when the user presses Enter with non-empty input.
type chatSubmitMsg struct {
	prompt string
}

type chatChunkMsg struct {
	chunk proto.Chunk
}

type chatToolMsg struct {
	status proto.ToolCallStatus
}

type chatWarningMsg struct {
	text string
}

type chatPlanMsg struct {
	plan plan.Plan
}

// chatTurnDoneMsg signals the turn is complete.
type chatTurnDoneMsg struct {
	resp agent.Response
	err  error
}

type chatRenderMsg struct{}

type chatWaitingTickMsg struct{}

// Init implements tea.Model.
func (c *Chat) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if c.initialPrompt != "" {
		prompt := c.initialPrompt
		cmds = append(cmds, func() tea.Msg {
			return chatSubmitMsg{prompt: prompt}
		})
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (c *Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		for i := range c.entries {
			c.entries[i].rendered = ""
		}
		c.resizeViewport()
		c.refreshViewport()
		return c, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if c.state == chatStreamState {
				c.cancelTurn()
				return c, nil
			}
			return c, tea.Quit
		case "enter":
			if c.state != chatInputState || c.running {
				break
			}
			text := strings.TrimSpace(c.input.Value())
			if text == "" {
				return c, nil
			}
			if text == "/exit" || text == "/quit" {
				return c, tea.Quit
			}
			c.input.SetValue("")
			return c, func() tea.Msg {
				return chatSubmitMsg{prompt: text}
			}
		}

	case chatSubmitMsg:
		c.closeEntries()
		c.entries = append(c.entries, entry{kind: entryPrompt, text: msg.prompt})
		c.waitingSince = time.Now()
		c.state = chatStreamState
		c.canceled = false
		c.resizeViewport()
		c.refreshViewport()
		return c, tea.Batch(c.startTurnCmd(msg.prompt), c.listen(), c.waitingTickCmd(), c.spinner.Tick)

	case chatChunkMsg:
		if !c.canceled {
			if msg.chunk.Reasoning != "" {
				c.appendText(entryReasoning, msg.chunk.Reasoning)
			}
			if msg.chunk.Content != "" {
				c.waitingSince = time.Time{}
				c.appendText(entryAnswer, msg.chunk.Content)
			}
			cmds = append(cmds, c.scheduleRender())
		}
		cmds = append(cmds, c.listen())
		return c, tea.Batch(cmds...)

	case chatToolMsg:
		if !c.canceled {
			c.closeEntries()
			c.entries = append(c.entries, entry{kind: entryTool, text: present.ToolCallLine(c.styles, msg.status)})
			cmds = append(cmds, c.scheduleRender())
		}
		cmds = append(cmds, c.listen())
		return c, tea.Batch(cmds...)

	case chatWarningMsg:
		c.notice("Warning: " + msg.text)
		return c, tea.Batch(c.scheduleRender(), c.listen())

	case chatPlanMsg:
		c.plan = msg.plan
		c.resizeViewport()
		c.refreshViewport()
		if c.running {
			return c, c.listen()
		}
		return c, nil

	case chatTurnDoneMsg:
		c.finishTurn(msg.resp, msg.err)
		c.state = chatInputState
		c.resizeViewport()
		c.refreshViewport()
		return c, nil

	case chatWaitingTickMsg:
		if c.state == chatStreamState {
			return c, c.waitingTickCmd()
		}
		return c, nil

	case chatRenderMsg:
		c.renderScheduled = false
		if c.dirtyOutput {
			c.refreshViewport()
		}
		return c, nil

	case spinner.TickMsg:
		if c.state != chatStreamState {
			return c, nil
		}
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		return c, cmd
	}

	if c.state == chatInputState {
		var cmd tea.Cmd
		c.input, cmd = c.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	c.viewport, cmd = c.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return c, tea.Batch(cmds...)
}

// View implements tea.Model.
func (c *Chat) View() string {
	if c.width == 0 || c.height == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(c.viewport.View())
	sb.WriteString("\n")
	if p := c.planView(); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString(c.styles.Comment.Render(strings.Repeat("─", max(c.width, 1))))
	sb.WriteString("\n")
	if c.state == chatStreamState {
		sb.WriteString(c.spinner.View() + " " + c.waitingStatus(time.Now()))
	} else {
		sb.WriteString(c.input.View())
	}
	return sb.String()
}

// Messages returns the current conversation history.
func (c *Chat) Messages() []proto.Message {
	return c.history
}

func (c *Chat) post(msg tea.Msg) {
	select {
	case c.events <- msg:
	case <-c.ctx.Done():
	}
}

func (c *Chat) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-c.events:
			return msg
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *Chat) startTurnCmd(prompt string) tea.Cmd {
	if c.sender == nil {
		return func() tea.Msg {
			return chatTurnDoneMsg{err: errs.Error{Reason: "Agent is not available"}}
		}
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.cancel = cancel
	c.running = true
	history := c.history
	handler := agent.Handler{
		OnChunk:    func(chunk proto.Chunk) { c.post(chatChunkMsg{chunk: chunk}) },
		OnToolCall: func(status proto.ToolCallStatus) { c.post(chatToolMsg{status: status}) },
		OnWarning:  func(w string) { c.post(chatWarningMsg{text: w}) },
	}

	return func() tea.Msg {
		go func() {
			defer cancel()
			resp, err := c.sender.Send(ctx, c.agent, history, prompt, handler)
			c.post(chatTurnDoneMsg{resp: resp, err: err})
		}()
		return nil
	}
}

// cancelTurn stops the running turn. Its output stays on screen but the
// turn is not added to the history.
func (c *Chat) cancelTurn() {
	if c.cancel != nil {
		c.cancel()
	}
	c.canceled = true
	c.waitingSince = time.Time{}
	c.closeEntries()
	c.notice("Canceled.")
	c.state = chatInputState
	c.resizeViewport()
	c.refreshViewport()
}

func (c *Chat) finishTurn(resp agent.Response, err error) {
	c.running = false
	c.cancel = nil
	c.waitingSince = time.Time{}
	c.closeEntries()

	if c.canceled {
		c.canceled = false
		return
	}
	if err != nil {
		var e errs.Error
		if errors.As(err, &e) && e.Reason != "" {
			c.notice(e.Reason + " " + err.Error())
		} else {
			c.notice("Error: " + err.Error())
		}
		return
	}

	c.history = resp.Messages
	if c.saveFn != nil {
		if err := c.saveFn(c.history); err != nil {
			c.notice("Warning: failed to save conversation: " + err.Error())
		}
	}
}

func (c *Chat) appendText(kind entryKind, text string) {
	if n := len(c.entries); n > 0 && c.entries[n-1].open && c.entries[n-1].kind == kind {
		c.entries[n-1].text += text
		c.entries[n-1].rendered = ""
		return
	}
	c.closeEntries()
	c.entries = append(c.entries, entry{kind: kind, text: text, open: true})
}

func (c *Chat) closeEntries() {
	for i := range c.entries {
		c.entries[i].open = false
	}
}

func (c *Chat) notice(text string) {
	c.closeEntries()
	c.entries = append(c.entries, entry{kind: entryNotice, text: text})
	c.dirtyOutput = true
}

func (c *Chat) scheduleRender() tea.Cmd {
	c.dirtyOutput = true
	if c.renderScheduled {
		return nil
	}
	c.renderScheduled = true
	return c.renderTickCmd()
}

func (c *Chat) render(e *entry) string {
	if e.rendered != "" && !e.open {
		return e.rendered
	}
	width := max(c.width, 1)
	var out string
	switch e.kind {
	case entryPrompt:
		out = c.styles.Pipe.Render("❯ ") + c.renderer.NewStyle().Width(max(width-2, 1)).Render(e.text)
	case entryAnswer:
		out = e.text
		if c.md != nil {
			if rendered, err := c.md.Render(e.text); err == nil {
				out = rendered
			}
		}
		out = strings.TrimRightFunc(out, unicode.IsSpace)
	case entryReasoning:
		out = c.styles.Reasoning.Width(width).Render(strings.TrimSpace(e.text))
	case entryTool:
		out = e.text
	case entryNotice:
		out = c.styles.Comment.Width(width).Render(e.text)
	}
	if !e.open {
		e.rendered = out
	}
	return out
}

func (c *Chat) refreshViewport() {
	parts := make([]string, 0, len(c.entries))
	for i := range c.entries {
		parts = append(parts, c.render(&c.entries[i]))
	}
	content := strings.Join(parts, "\n\n") + "\n"
	content = c.renderer.NewStyle().MaxWidth(max(c.width, 1)).Render(content)

	wasAtBottom := c.viewport.AtBottom() || c.viewport.TotalLineCount() <= c.viewport.Height
	c.viewport.SetContent(content)
	if wasAtBottom {
		c.viewport.GotoBottom()
	}
	c.dirtyOutput = false
}

func (c *Chat) planView() string {
	return present.PlanView(c.styles, c.plan)
}

func (c *Chat) renderTickCmd() tea.Cmd {
	const renderInterval = 33 * time.Millisecond
	return tea.Tick(renderInterval, func(time.Time) tea.Msg {
		return chatRenderMsg{}
	})
}

func (c *Chat) waitingTickCmd() tea.Cmd {
	const waitingInterval = 200 * time.Millisecond
	return tea.Tick(waitingInterval, func(time.Time) tea.Msg {
		return chatWaitingTickMsg{}
	})
}

func (c *Chat) footerLineCount() int {
	n := 2
	if p := c.planView(); p != "" {
		n += lipgloss.Height(p)
	}
	return n
}

func (c *Chat) resizeViewport() {
	if c.width > 0 {
		c.viewport.Width = c.width
	}
	c.viewport.Height = max(c.height-c.footerLineCount(), 1)
}

func (c *Chat) waitingStatus(now time.Time) string {
	if c.waitingSince.IsZero() {
		return c.styles.Comment.Render("Working...")
	}

	elapsed := max(now.Sub(c.waitingSince), 0)
	return c.styles.Comment.Render("Waiting for response... [" + formatElapsedClock(elapsed) + "]")
}

func formatElapsedClock(d time.Duration) string {
	totalSeconds := int(d / time.Second)
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
