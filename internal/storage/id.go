package storage

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// IDShort is the display length used in CLI output.
	IDShort = 8
	// IDMinLen is the minimum prefix length considered for ID matching.
	IDMinLen = 4
)

// IDRegexp matches a full conversation ID.
var IDRegexp = regexp.MustCompile(`\b[0-9a-f]{32}\b`)

// NewConversationID returns a random 32 character hex ID.
func NewConversationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShortID trims id to its display length.
func ShortID(id string) string {
	if len(id) > IDShort {
		return id[:IDShort]
	}
	return id
}
