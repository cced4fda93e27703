package present

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// output is a standard stream the CLI writes to. Everything is resolved
// once, on first use.
type output struct {
	tty      func() bool
	renderer func() *lipgloss.Renderer
	styles   func() Styles
}

func newOutput(f *os.File, renderer func() *lipgloss.Renderer) output {
	renderer = sync.OnceValue(renderer)
	return output{
		tty:      sync.OnceValue(func() bool { return isatty.IsTerminal(f.Fd()) }),
		renderer: renderer,
		styles:   sync.OnceValue(func() Styles { return MakeStyles(renderer()) }),
	}
}

var (
	isInputTTY = sync.OnceValue(func() bool {
		return isatty.IsTerminal(os.Stdin.Fd())
	})

	// Answers and listings go to stdout.
	stdout = newOutput(os.Stdout, lipgloss.DefaultRenderer)

	// Tool activity, notices and the chat UI go to stderr.
	stderr = newOutput(os.Stderr, func() *lipgloss.Renderer {
		return lipgloss.NewRenderer(os.Stderr, termenv.WithColorCache(true))
	})
)

// IsInputTTY reports whether stdin is a TTY.
func IsInputTTY() bool { return isInputTTY() }

// IsOutputTTY reports whether stdout is a TTY.
func IsOutputTTY() bool { return stdout.tty() }

// IsErrorTTY reports whether stderr is a TTY.
func IsErrorTTY() bool { return stderr.tty() }

// StdoutRenderer returns a lipgloss renderer bound to stdout.
func StdoutRenderer() *lipgloss.Renderer { return stdout.renderer() }

// StdoutStyles returns shared styles bound to stdout.
func StdoutStyles() Styles { return stdout.styles() }

// StderrRenderer returns a lipgloss renderer bound to stderr.
func StderrRenderer() *lipgloss.Renderer { return stderr.renderer() }

// StderrStyles returns shared styles bound to stderr.
func StderrStyles() Styles { return stderr.styles() }

// Badge renders an upper-cased action label in front of content, as in
// "COPIED 1a2b3c4".
func Badge(s Styles, action, content string) string {
	return lipgloss.JoinHorizontal(lipgloss.Center, s.Badge.Render(strings.ToUpper(action)), content)
}
