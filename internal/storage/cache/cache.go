// Package cache keeps conversation transcripts on disk.
//
// Each transcript is a JSON array of messages stored under
// <base>/conversations/<id[:2]>/<id>.json. Transcripts written before
// sharding, directly under <base>/conversations, are still read and deleted.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotcommander/codingagency/internal/proto"
)

const (
	dirName  = "conversations"
	ext      = ".json"
	shardLen = 2
)

var errInvalidID = errors.New("invalid id")

// Conversations stores session transcripts keyed by conversation ID.
type Conversations struct {
	dir string
}

// New opens the transcript store under baseDir, creating it if needed.
func New(baseDir string) (*Conversations, error) {
	dir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Conversations{dir: dir}, nil
}

// paths lists where id may be stored, preferred location first.
func (c *Conversations) paths(id string) []string {
	flat := filepath.Join(c.dir, id+ext)
	if len(id) < shardLen {
		return []string{flat}
	}
	return []string{filepath.Join(c.dir, id[:shardLen], id+ext), flat}
}

// Read loads the transcript of id.
func (c *Conversations) Read(id string) ([]proto.Message, error) {
	if id == "" {
		return nil, fmt.Errorf("read conversation: %w", errInvalidID)
	}
	var (
		bts []byte
		err error
	)
	for _, path := range c.paths(id) {
		bts, err = os.ReadFile(path)
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", id, err)
	}

	var messages []proto.Message
	if err := json.Unmarshal(bts, &messages); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return messages, nil
}

// Write replaces the transcript of id. The file is swapped in atomically,
// so readers see either the old or the new transcript.
func (c *Conversations) Write(id string, messages []proto.Message) error {
	if id == "" {
		return fmt.Errorf("write conversation: %w", errInvalidID)
	}
	if messages == nil {
		messages = []proto.Message{}
	}
	bts, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", id, err)
	}

	path := c.paths(id)[0]
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("write conversation %s: %w", id, err)
	}
	if err := writeAtomic(dir, path, bts); err != nil {
		return fmt.Errorf("write conversation %s: %w", id, err)
	}
	return nil
}

func writeAtomic(dir, path string, bts []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err //nolint:wrapcheck
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(bts); err != nil {
		return err //nolint:wrapcheck
	}
	if err := tmp.Sync(); err != nil {
		return err //nolint:wrapcheck
	}
	if err := tmp.Close(); err != nil {
		return err //nolint:wrapcheck
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err //nolint:wrapcheck
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Delete removes the transcript of id from wherever it is stored.
func (c *Conversations) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("delete conversation: %w", errInvalidID)
	}
	var err error
	for _, path := range c.paths(id) {
		err = os.Remove(path)
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
