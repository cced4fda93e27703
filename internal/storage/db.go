package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrNoMatches is returned when no conversations match the query.
	ErrNoMatches = errors.New("no conversations found")
	// ErrManyMatches is returned when multiple conversations match the query.
	ErrManyMatches = errors.New("multiple conversations matched the input")
)

const (
	opUpsert = "upsert"
	opDelete = "delete"

	indexFileName      = "index.jsonl"
	compactMinOps      = 256
	compactScaleFactor = 4
)

type convoEvent struct {
	Op           string        `json:"op"`
	ID           string        `json:"id,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

// Open loads the conversation metadata store from the given datasource.
//
// The datasource is usually a directory path. The special value ":memory:"
// creates a temporary store (primarily used for tests).
func Open(ds string) (*DB, error) {
	dir, cleanupDir, err := resolveStoreDir(ds)
	if err != nil {
		return nil, fmt.Errorf("could not resolve store path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create store directory: %w", err)
	}

	c := &DB{
		indexPath:      filepath.Join(dir, indexFileName),
		lock:           flock.New(filepath.Join(dir, "index.lock")),
		conversations:  make(map[string]Conversation),
		cleanupTempDir: cleanupDir,
	}
	if err := c.load(); err != nil {
		return nil, err
	}

	return c, nil
}

// DB is an append-only JSONL index of saved sessions. The index file is
// guarded by a file lock so concurrent processes can share it.
type DB struct {
	mu             sync.RWMutex
	indexPath      string
	lock           *flock.Flock
	conversations  map[string]Conversation
	ops            int
	cleanupTempDir string
}

// Conversation is the metadata of a saved session.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Agent     string    `json:"agent,omitempty"`
	API       string    `json:"api,omitempty"`
	Model     string    `json:"model,omitempty"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Close releases temporary resources (used for :memory: stores).
func (c *DB) Close() error {
	if c.cleanupTempDir == "" {
		return nil
	}
	if err := os.RemoveAll(c.cleanupTempDir); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Save upserts a conversation record. UpdatedAt is set to now and CreatedAt
// is kept from an earlier record.
func (c *DB) Save(convo Conversation) error {
	if strings.TrimSpace(convo.ID) == "" {
		return fmt.Errorf("save: %w", errors.New("empty id"))
	}
	if strings.TrimSpace(convo.Title) == "" {
		return fmt.Errorf("save: %w", errors.New("empty title"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	convo.UpdatedAt = time.Now().UTC()
	if prev, ok := c.conversations[convo.ID]; ok && !prev.CreatedAt.IsZero() {
		convo.CreatedAt = prev.CreatedAt
	}
	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = convo.UpdatedAt
	}

	c.conversations[convo.ID] = convo
	if err := c.appendEventLocked(convoEvent{Op: opUpsert, Conversation: &convo}); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := c.compactIfNeededLocked(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Delete removes a conversation record by ID.
func (c *DB) Delete(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("delete: %w", errors.New("empty id"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.conversations[id]; !ok {
		return nil
	}
	delete(c.conversations, id)

	if err := c.appendEventLocked(convoEvent{Op: opDelete, ID: id}); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := c.compactIfNeededLocked(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// ListOlderThan returns conversations older than the given duration.
func (c *DB) ListOlderThan(t time.Duration) []Conversation {
	cutoff := time.Now().Add(-t)

	c.mu.RLock()
	convos := make([]Conversation, 0, len(c.conversations))
	for _, convo := range c.conversations {
		if convo.UpdatedAt.Before(cutoff) {
			convos = append(convos, convo)
		}
	}
	c.mu.RUnlock()

	sortConversationsByUpdatedAtDesc(convos)
	return convos
}

// Prune deletes conversations not updated within d and returns them.
func (c *DB) Prune(d time.Duration) ([]Conversation, error) {
	old := c.ListOlderThan(d)
	for _, convo := range old {
		if err := c.Delete(convo.ID); err != nil {
			return nil, fmt.Errorf("prune: %w", err)
		}
	}
	return old, nil
}

// Latest returns the most recently updated conversation.
func (c *DB) Latest() (*Conversation, error) {
	list := c.List()
	if len(list) == 0 {
		return nil, fmt.Errorf("latest: %w", ErrNoMatches)
	}
	head := list[0]
	return &head, nil
}

// Completions returns shell completion candidates for IDs and titles.
func (c *DB) Completions(in string) []string {
	resultSet := make(map[string]struct{})

	c.mu.RLock()
	for _, convo := range c.conversations {
		if strings.HasPrefix(convo.ID, in) {
			displayID := convo.ID
			if len(in) < IDShort {
				displayID = ShortID(convo.ID)
			}
			resultSet[displayID+"\t"+convo.Title] = struct{}{}
		}
		if strings.HasPrefix(convo.Title, in) {
			resultSet[convo.Title+"\t"+ShortID(convo.ID)] = struct{}{}
		}
	}
	c.mu.RUnlock()

	return slices.Sorted(maps.Keys(resultSet))
}

// Find resolves a conversation by ID prefix or exact title.
func (c *DB) Find(in string) (*Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conversations := make([]Conversation, 0, len(c.conversations))
	if len(in) < IDMinLen {
		for _, convo := range c.conversations {
			if convo.Title == in {
				conversations = append(conversations, convo)
			}
		}
	} else {
		for _, convo := range c.conversations {
			if strings.HasPrefix(convo.ID, in) || convo.Title == in {
				conversations = append(conversations, convo)
			}
		}
	}

	if len(conversations) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrManyMatches, in)
	}
	if len(conversations) == 1 {
		return &conversations[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatches, in)
}

// List returns conversations sorted by most recently updated.
func (c *DB) List() []Conversation {
	c.mu.RLock()
	convos := make([]Conversation, 0, len(c.conversations))
	for _, convo := range c.conversations {
		convos = append(convos, convo)
	}
	c.mu.RUnlock()

	sortConversationsByUpdatedAtDesc(convos)
	return convos
}

func resolveStoreDir(ds string) (dir string, cleanupDir string, err error) {
	if ds == ":memory:" {
		tempDir, err := os.MkdirTemp("", "codingagency-conversations-*")
		if err != nil {
			return "", "", fmt.Errorf("could not create temp conversations directory: %w", err)
		}
		return tempDir, tempDir, nil
	}

	return ds, "", nil
}

func (c *DB) load() error {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return fmt.Errorf("could not lock index file: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}

	file, err := os.Open(c.indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not open index file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt convoEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return fmt.Errorf("could not parse index event: %w", err)
		}
		if err := c.applyEvent(&evt); err != nil {
			return err
		}
		c.ops++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not scan index file: %w", err)
	}

	return nil
}

func (c *DB) applyEvent(evt *convoEvent) error {
	switch evt.Op {
	case opUpsert:
		if evt.Conversation == nil {
			return fmt.Errorf("invalid upsert event: missing conversation")
		}
		if strings.TrimSpace(evt.Conversation.ID) == "" {
			return fmt.Errorf("invalid upsert event: empty id")
		}
		convo := *evt.Conversation
		c.conversations[convo.ID] = convo
	case opDelete:
		if strings.TrimSpace(evt.ID) == "" {
			return fmt.Errorf("invalid delete event: empty id")
		}
		delete(c.conversations, evt.ID)
	default:
		return fmt.Errorf("invalid index event op: %q", evt.Op)
	}
	return nil
}

func (c *DB) appendEventLocked(evt convoEvent) error {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return fmt.Errorf("lock index: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}

	file, err := os.OpenFile(c.indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = file.Close() }()

	bts, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal index event: %w", err)
	}
	bts = append(bts, '\n')
	if _, err := file.Write(bts); err != nil {
		_ = file.Close()
		return fmt.Errorf("write index event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}

	c.ops++
	return nil
}

func (c *DB) compactIfNeededLocked() error {
	if c.ops < compactMinOps {
		return nil
	}
	if len(c.conversations) > 0 && c.ops < len(c.conversations)*compactScaleFactor {
		return nil
	}
	return c.compactLocked()
}

func (c *DB) compactLocked() error {
	if c.lock != nil {
		if err := c.lock.Lock(); err != nil {
			return fmt.Errorf("lock index: %w", err)
		}
		defer func() { _ = c.lock.Unlock() }()
	}

	items := make([]Conversation, 0, len(c.conversations))
	for _, convo := range c.conversations {
		items = append(items, convo)
	}

	slices.SortFunc(items, func(a, b Conversation) int {
		if n := a.UpdatedAt.Compare(b.UpdatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})

	tmpPath := c.indexPath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open compacted index: %w", err)
	}

	enc := json.NewEncoder(file)
	for _, convo := range items {
		event := convoEvent{Op: opUpsert, Conversation: &convo}
		if err := enc.Encode(event); err != nil {
			_ = file.Close()
			return fmt.Errorf("write compacted index: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync compacted index: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close compacted index: %w", err)
	}

	if err := os.Rename(tmpPath, c.indexPath); err != nil {
		return fmt.Errorf("replace index with compacted version: %w", err)
	}
	_ = syncDir(filepath.Dir(c.indexPath))

	c.ops = len(c.conversations)
	return nil
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

func sortConversationsByUpdatedAtDesc(convos []Conversation) {
	slices.SortFunc(convos, func(a, b Conversation) int {
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
}
