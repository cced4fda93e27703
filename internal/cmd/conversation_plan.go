package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/x/exp/ordered"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/storage"
)

type conversationPlan struct {
	WriteID string
	Title   string
	ReadID  string
	// Agent is the agent the continued thread was held with, if any.
	Agent string
}

func planConversation(cfg *config.Config, db *storage.DB) (conversationPlan, error) {
	continueLast := cfg.ContinueLast || (cfg.Continue != "" && cfg.Title == "")
	readID := ordered.First(cfg.Continue, cfg.Show)
	writeID := ordered.First(cfg.Title, cfg.Continue)
	title := writeID
	agentName := cfg.Agent

	if readID != "" || continueLast || cfg.ShowLast {
		found, err := findReadConversation(cfg, db, readID)
		if err != nil {
			return conversationPlan{}, errs.Wrap(err, "Could not find the conversation.")
		}
		if found != nil {
			readID = found.ID
			agentName = ordered.First(cfg.Agent, found.Agent)
		}
	}

	// continuing updates the existing thread
	if continueLast {
		writeID = readID
	}

	if writeID == "" {
		writeID = storage.NewConversationID()
	}

	if !storage.IDRegexp.MatchString(writeID) {
		convo, err := db.Find(writeID)
		if err != nil {
			// a new thread with a title
			writeID = storage.NewConversationID()
		} else {
			writeID = convo.ID
		}
	}

	return conversationPlan{
		WriteID: writeID,
		Title:   title,
		ReadID:  readID,
		Agent:   agentName,
	}, nil
}

// apply stores the plan in the runtime part of cfg.
func (p conversationPlan) apply(cfg *config.Config) {
	cfg.CacheWriteToID = p.WriteID
	cfg.CacheWriteToTitle = p.Title
	cfg.CacheReadFromID = p.ReadID
	cfg.Agent = p.Agent
}

func findReadConversation(cfg *config.Config, db *storage.DB, in string) (*storage.Conversation, error) {
	convo, err := db.Find(in)
	if err == nil {
		return convo, nil
	}
	if errors.Is(err, storage.ErrNoMatches) && cfg.Show == "" {
		convo, err := db.Latest()
		if err != nil {
			return nil, fmt.Errorf("find latest conversation: %w", err)
		}
		return convo, nil
	}
	return nil, fmt.Errorf("find conversation: %w", err)
}
