package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/tui"
)

func newChatCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [initial prompt]",
		Short: "Start an interactive session with the agent",
		Long:  "Start an interactive terminal session with the entry agent. Type /exit or press Ctrl+C to quit; Ctrl+C while the agent works cancels the turn.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			applyModelOverride(cmd.Flags(), &rt.cfg)
			return rt.runChat(ctx, strings.TrimSpace(strings.Join(args, " ")))
		},
	}

	initSessionFlags(cmd, &rt.cfg)
	return cmd
}

func (rt *runtime) runChat(ctx context.Context, initialPrompt string) error {
	if !present.IsInputTTY() || !present.IsErrorTTY() {
		return errs.Error{
			Reason: "The chat session needs a terminal.",
			Err:    errs.UserErrorf("Pipe prompts without %s to run them headless.", present.StderrStyles().InlineCode.Render("chat")),
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := openSession(ctx, &rt.cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	history, err := s.store.threadLoader(&rt.cfg)(ctx, rt.cfg.CacheReadFromID)
	if err != nil {
		return errs.Wrap(err, "There was a problem reading the conversation from cache.")
	}

	go func() {
		if err := s.agency.Watch(ctx); err != nil {
			s.log.Warn("instructions.watch.failed", "error", err)
		}
	}()

	chat := tui.NewChat(ctx, present.StderrRenderer(), &rt.cfg, tui.ChatOptions{
		Sender:  s.agency,
		Agent:   s.agency.Entry(),
		Tracker: s.tracker,
		History: history,
		Save: func(msgs []proto.Message) error {
			return saveConversation(&rt.cfg, s.store, msgs)
		},
		Prompt: initialPrompt,
	})

	p := tea.NewProgram(chat, tea.WithAltScreen(), tea.WithOutput(os.Stderr))
	m, err := p.Run()
	if err != nil {
		return errs.Wrap(err, "Couldn't start chat program.")
	}

	if msgs := m.(*tui.Chat).Messages(); len(msgs) > len(history) {
		announceSaved(&rt.cfg, msgs)
	}
	return nil
}
