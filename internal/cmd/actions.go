package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/storage"
)

func listConversations(cfg *config.Config, raw bool) error {
	store, err := openConversationStore(cfg.CachePath)
	if err != nil {
		return errs.Wrap(err, "Could not open conversation store.")
	}
	defer store.Close() //nolint:errcheck

	conversations := store.DB.List()
	if len(conversations) == 0 {
		fmt.Fprintln(os.Stderr, "No conversations found.")
		return nil
	}

	if present.IsInputTTY() && present.IsOutputTTY() && !raw {
		selectFromList(conversations)
		return nil
	}
	printList(conversations)
	return nil
}

func showConversation(cfg *config.Config) error {
	store, err := openConversationStore(cfg.CachePath)
	if err != nil {
		return errs.Wrap(err, "Could not open conversation store.")
	}
	defer store.Close() //nolint:errcheck

	in := cfg.Show
	if cfg.ShowLast {
		in = ""
	}
	found, err := findReadConversation(cfg, store.DB, in)
	if err != nil {
		return errs.Wrap(err, "There was an error loading the conversation.")
	}

	messages, err := store.Cache.Read(found.ID)
	if err != nil {
		return errs.Wrap(err, "There was an error loading the conversation.")
	}

	out := proto.Conversation(messages).String()
	if present.IsOutputTTY() && !cfg.Raw {
		formatted, err := present.RenderMarkdown(out, cfg.WordWrap)
		if err == nil {
			out = formatted
		}
	}
	fmt.Print(out)
	return nil
}

func deleteConversations(cfg *config.Config, targets []string) error {
	store, err := openConversationStore(cfg.CachePath)
	if err != nil {
		return errs.Wrap(err, "Couldn't delete conversation.")
	}
	defer store.Close() //nolint:errcheck

	for _, del := range targets {
		convo, err := store.DB.Find(del)
		if err != nil {
			return errs.Wrap(err, "Couldn't find conversation to delete.")
		}
		if err := deleteConversationByID(cfg, store, convo.ID); err != nil {
			return err
		}
	}
	return nil
}

func deleteConversationByID(cfg *config.Config, store *conversationStore, id string) error {
	if err := store.DB.Delete(id); err != nil {
		return fmt.Errorf("delete conversation index: %w", err)
	}
	if err := store.Cache.Delete(id); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete conversation payload: %w", err)
	}
	if !cfg.Quiet {
		fmt.Fprintln(os.Stderr, "Conversation deleted:", storage.ShortID(id))
	}
	return nil
}

func deleteConversationsOlderThan(cfg *config.Config, olderThanDuration string) error {
	if cfg.DeleteOlderThan == 0 {
		return errs.Wrap(errs.UserErrorf("missing --older-than"), "Could not delete old conversations.")
	}

	store, err := openConversationStore(cfg.CachePath)
	if err != nil {
		return errs.Wrap(err, "Could not open conversation store.")
	}
	defer store.Close() //nolint:errcheck

	conversations := store.DB.ListOlderThan(cfg.DeleteOlderThan)
	if len(conversations) == 0 {
		if !cfg.Quiet {
			fmt.Fprintln(os.Stderr, "No conversations found.")
		}
		return nil
	}

	if !cfg.Quiet {
		printList(conversations)

		if !present.IsOutputTTY() || !present.IsInputTTY() {
			fmt.Fprintln(os.Stderr)
			//nolint:wrapcheck // user-facing guidance error
			return errs.UserErrorf(
				"To delete the conversations above, run: %s",
				strings.Join(append(os.Args, "--quiet"), " "),
			)
		}
		var confirm bool
		if err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete conversations older than %s?", olderThanDuration)).
					Description(fmt.Sprintf("This will delete all the %d conversations listed above.", len(conversations))).
					Value(&confirm),
			),
		).WithTheme(themeFrom(cfg.Theme)).Run(); err != nil {
			return errs.Wrap(err, "Couldn't delete old conversations.")
		}
		if !confirm {
			//nolint:wrapcheck // user-facing abort
			return errs.UserErrorf("Aborted by user")
		}
	}

	pruned, err := store.DB.Prune(cfg.DeleteOlderThan)
	if err != nil {
		return errs.Wrap(err, "Couldn't delete old conversations.")
	}
	for _, c := range pruned {
		if err := store.Cache.Delete(c.ID); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errs.Wrap(err, "Couldn't delete old conversations.")
		}
	}
	if !cfg.Quiet {
		fmt.Fprintf(os.Stderr, "Deleted %d conversations.\n", len(pruned))
	}
	return nil
}
