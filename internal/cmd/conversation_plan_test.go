package cmd

import (
	"testing"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/storage"
	"github.com/stretchr/testify/require"
)

func testDB(tb testing.TB) *storage.DB {
	db, err := storage.Open(":memory:")
	require.NoError(tb, err)
	tb.Cleanup(func() {
		require.NoError(tb, db.Close())
	})
	return db
}

func saveConvo(tb testing.TB, db *storage.DB, id, title string) {
	tb.Helper()
	require.NoError(tb, db.Save(storage.Conversation{ID: id, Title: title, Agent: "CodingAgent"}))
}

func TestPlanConversation(t *testing.T) {
	newCfg := func() *config.Config {
		return &config.Config{}
	}

	t.Run("all empty", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Empty(t, pl.ReadID)
		require.NotEmpty(t, pl.WriteID)
		require.Empty(t, pl.Title)
	})

	t.Run("show id", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message")
		cfg.Show = id[:8]

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
	})

	t.Run("show title", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.Show = "message 1"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
	})

	t.Run("continue id", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message")
		cfg.Continue = id[:5]
		cfg.Prefix = "prompt"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.Equal(t, id, pl.WriteID)
	})

	t.Run("continue with no prompt", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.ContinueLast = true

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.Equal(t, id, pl.WriteID)
		require.Empty(t, pl.Title)
	})

	t.Run("continue title", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.Continue = "message 1"
		cfg.Prefix = "prompt"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.Equal(t, id, pl.WriteID)
	})

	t.Run("continue last", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.ContinueLast = true
		cfg.Prefix = "prompt"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.Equal(t, id, pl.WriteID)
		require.Empty(t, pl.Title)
	})

	t.Run("continue last with name", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.Continue = "message 2"
		cfg.Prefix = "prompt"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.Equal(t, "message 2", pl.Title)
		require.NotEmpty(t, pl.WriteID)
		require.Equal(t, id, pl.WriteID)
	})

	t.Run("write", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		cfg.Title = "some title"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Empty(t, pl.ReadID)
		require.NotEmpty(t, pl.WriteID)
		require.NotEqual(t, "some title", pl.WriteID)
		require.Equal(t, "some title", pl.Title)
	})

	t.Run("continue id and write with title", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.Title = "some title"
		cfg.Continue = id[:10]

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.NotEmpty(t, pl.WriteID)
		require.NotEqual(t, id, pl.WriteID)
		require.NotEqual(t, "some title", pl.WriteID)
		require.Equal(t, "some title", pl.Title)
	})

	t.Run("continue title and write with title", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		saveConvo(t, db, id, "message 1")
		cfg.Title = "some title"
		cfg.Continue = "message 1"

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, id, pl.ReadID)
		require.NotEmpty(t, pl.WriteID)
		require.NotEqual(t, id, pl.WriteID)
		require.NotEqual(t, "some title", pl.WriteID)
		require.Equal(t, "some title", pl.Title)
	})

	t.Run("show invalid", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		cfg.Show = "aaa"

		_, err := planConversation(cfg, db)
		require.Error(t, err)

		e := errs.Error{}
		require.ErrorAs(t, err, &e)
		require.Equal(t, "Could not find the conversation.", e.Reason)
		require.ErrorContains(t, e, "no conversations found: aaa")
	})

	t.Run("continue keeps the thread agent", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		id := storage.NewConversationID()
		require.NoError(t, db.Save(storage.Conversation{ID: id, Title: "review", Agent: "Reviewer"}))
		cfg.ContinueLast = true

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, "Reviewer", pl.Agent)

		pl.apply(cfg)
		require.Equal(t, "Reviewer", cfg.EntryAgent())
		require.Equal(t, id, cfg.CacheReadFromID)
		require.Equal(t, id, cfg.CacheWriteToID)
	})

	t.Run("agent flag wins over the thread agent", func(t *testing.T) {
		db := testDB(t)
		cfg := newCfg()
		cfg.Agent = "CodingAgent"
		require.NoError(t, db.Save(storage.Conversation{ID: storage.NewConversationID(), Title: "review", Agent: "Reviewer"}))
		cfg.ContinueLast = true

		pl, err := planConversation(cfg, db)
		require.NoError(t, err)
		require.Equal(t, "CodingAgent", pl.Agent)
	})

	t.Run("new thread has no agent", func(t *testing.T) {
		db := testDB(t)
		pl, err := planConversation(newCfg(), db)
		require.NoError(t, err)
		require.Empty(t, pl.Agent)
		require.Empty(t, pl.ReadID)
		require.NotEmpty(t, pl.WriteID)
	})
}
