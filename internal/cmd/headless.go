package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dotcommander/codingagency/internal/agent"
	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/tools/patch"
	"github.com/dotcommander/codingagency/internal/tools/plan"
)

// headlessOutput prints a programmatic session. Answer text goes to out,
// tool activity and warnings go to errOut.
type headlessOutput struct {
	out    io.Writer
	errOut io.Writer
	styles present.Styles
	quiet  bool
	// render buffers the answer and prints it as Markdown at the end.
	render   bool
	wordWrap int

	mu      sync.Mutex
	pending bool
}

func newHeadlessOutput(cfg *config.Config, out, errOut io.Writer, styles present.Styles, tty bool) *headlessOutput {
	return &headlessOutput{
		out:      out,
		errOut:   errOut,
		styles:   styles,
		quiet:    cfg.Quiet,
		render:   tty && !cfg.Raw,
		wordWrap: cfg.WordWrap,
	}
}

func (h *headlessOutput) handler() agent.Handler {
	return agent.Handler{
		OnChunk:    h.chunk,
		OnToolCall: h.toolCall,
		OnWarning:  h.warning,
	}
}

func (h *headlessOutput) chunk(c proto.Chunk) {
	if h.render || c.Content == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprint(h.out, c.Content)
	h.pending = !strings.HasSuffix(c.Content, "\n")
}

func (h *headlessOutput) toolCall(s proto.ToolCallStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endLine()
	if h.quiet {
		return
	}
	_, _ = fmt.Fprintln(h.errOut, present.ToolCallLine(h.styles, s))
}

func (h *headlessOutput) warning(w string) {
	if h.quiet {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.errOut, h.styles.Comment.Render("Warning: "+w))
}

func (h *headlessOutput) plan(p plan.Plan) {
	if h.quiet {
		return
	}
	view := present.PlanView(h.styles, p)
	if view == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.errOut, view)
}

func (h *headlessOutput) diff(c patch.Change) {
	if h.quiet || strings.TrimSpace(c.Diff) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endLine()
	_, _ = fmt.Fprint(h.errOut, c.Diff)
	if !strings.HasSuffix(c.Diff, "\n") {
		_, _ = fmt.Fprintln(h.errOut)
	}
}

// endLine terminates a streamed line before other output. Callers hold mu.
func (h *headlessOutput) endLine() {
	if h.pending {
		_, _ = fmt.Fprintln(h.out)
		h.pending = false
	}
}

// finish prints whatever is left of resp.
func (h *headlessOutput) finish(resp agent.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.render {
		h.endLine()
		return
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return
	}
	if formatted, err := present.RenderMarkdown(text, h.wordWrap); err == nil {
		text = formatted
	}
	_, _ = fmt.Fprint(h.out, text)
	if !strings.HasSuffix(text, "\n") {
		_, _ = fmt.Fprintln(h.out)
	}
}

// runHeadless answers prompt on the planned thread without a TUI.
func (rt *runtime) runHeadless(ctx context.Context, prompt string) error {
	cfg := &rt.cfg
	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	out := newHeadlessOutput(cfg, os.Stdout, os.Stderr, present.StderrStyles(), present.IsOutputTTY())
	s.tracker.Subscribe(out.plan)
	if cfg.ShowDiffs {
		s.onPatch = out.diff
	}

	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := s.agency.StreamResponse(ctx, cfg.CacheWriteToID, prompt, out.handler())
	out.finish(resp)
	if err != nil {
		return err
	}
	announceSaved(cfg, resp.Messages)
	return nil
}
