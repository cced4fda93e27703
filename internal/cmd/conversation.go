package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/exp/ordered"

	"github.com/dotcommander/codingagency/internal/agent"
	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/storage"
	"github.com/dotcommander/codingagency/internal/storage/cache"
)

// conversationStore bundles the thread index and the transcript cache.
type conversationStore struct {
	DB    *storage.DB
	Cache *cache.Conversations
}

// openConversationStore opens both the metadata DB and the payload cache.
func openConversationStore(cachePath string) (*conversationStore, error) {
	convoCache, err := cache.New(cachePath)
	if err != nil {
		return nil, fmt.Errorf("open conversation cache: %w", err)
	}
	db, err := storage.Open(filepath.Join(cachePath, "conversations"))
	if err != nil {
		return nil, fmt.Errorf("open conversation database: %w", err)
	}
	return &conversationStore{DB: db, Cache: convoCache}, nil
}

// Close releases the underlying DB resources.
func (s *conversationStore) Close() error {
	return s.DB.Close()
}

// threadLoader reads the thread the plan continues from. A plan that starts
// a fresh thread loads nothing.
func (s *conversationStore) threadLoader(cfg *config.Config) agent.ThreadLoader {
	return func(context.Context, string) ([]proto.Message, error) {
		if cfg.NoCache || cfg.CacheReadFromID == "" {
			return nil, nil
		}
		msgs, err := s.Cache.Read(cfg.CacheReadFromID)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return msgs, err
	}
}

// threadSaver writes the thread under the ID the plan writes to.
func (s *conversationStore) threadSaver(cfg *config.Config) agent.ThreadSaver {
	return func(_ context.Context, _ string, msgs []proto.Message) error {
		return saveConversation(cfg, s, msgs)
	}
}

func saveConversation(cfg *config.Config, store *conversationStore, msgs []proto.Message) error {
	if cfg.NoCache || len(msgs) == 0 {
		return nil
	}

	id := cfg.CacheWriteToID
	errReason := fmt.Sprintf(
		"There was a problem writing %s to the cache. Use %s / %s to disable it.",
		storage.ShortID(id),
		present.StderrStyles().InlineCode.Render("--no-cache"),
		present.StderrStyles().InlineCode.Render("CODINGAGENCY_NO_CACHE"),
	)
	if err := store.Cache.Write(id, msgs); err != nil {
		return errs.Wrap(err, errReason)
	}
	convo := storage.Conversation{
		ID:       id,
		Title:    conversationTitle(cfg, msgs),
		Agent:    cfg.EntryAgent(),
		Messages: len(msgs),
	}
	if ac, ok := cfg.Agents[convo.Agent]; ok {
		convo.API = ordered.First(ac.API, cfg.API)
		convo.Model = ordered.First(ac.Model, cfg.Model)
	}
	if err := store.DB.Save(convo); err != nil {
		_ = store.Cache.Delete(id)
		return errs.Wrap(err, errReason)
	}
	return nil
}

// conversationTitle is the --title, or the first line of the last prompt.
func conversationTitle(cfg *config.Config, msgs []proto.Message) string {
	title := strings.TrimSpace(cfg.CacheWriteToTitle)
	if storage.IDRegexp.MatchString(title) || title == "" {
		title = firstLine(lastPrompt(msgs))
	}
	if title == "" {
		title = storage.ShortID(cfg.CacheWriteToID)
	}
	return title
}

// announceSaved tells the user where the thread went.
func announceSaved(cfg *config.Config, msgs []proto.Message) {
	if cfg.Quiet || len(msgs) == 0 {
		return
	}
	if cfg.NoCache {
		fmt.Fprintf(
			os.Stderr,
			"\nConversation was not saved because %s or %s is set.\n",
			present.StderrStyles().InlineCode.Render("--no-cache"),
			present.StderrStyles().InlineCode.Render("CODINGAGENCY_NO_CACHE"),
		)
		return
	}
	styles := present.StderrStyles()
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, present.Badge(
		styles,
		"saved",
		storage.ShortID(cfg.CacheWriteToID)+" "+styles.Comment.Render(conversationTitle(cfg, msgs)),
	))
}

func conversationCompletions(cfg *config.Config, toComplete string) []string {
	if cfg.CachePath == "" {
		return nil
	}
	db, err := storage.Open(filepath.Join(cfg.CachePath, "conversations"))
	if err != nil {
		return nil
	}
	defer db.Close() //nolint:errcheck
	return db.Completions(toComplete)
}

func lastPrompt(messages []proto.Message) string {
	var result string
	for _, msg := range messages {
		if msg.Role != proto.RoleUser {
			continue
		}
		if msg.Content == "" {
			continue
		}
		result = msg.Content
	}
	return result
}

func firstLine(s string) string {
	first, _, _ := strings.Cut(s, "\n")
	return first
}
