package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dotcommander/codingagency/internal/present"
)

func drainStdin() {
	if present.IsInputTTY() {
		return
	}
	_, _ = io.Copy(io.Discard, os.Stdin)
}

// readStdin returns piped input, or "" when stdin is a terminal.
func readStdin() (string, error) {
	if present.IsInputTTY() {
		return "", nil
	}
	bts, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(bts)), nil
}

// joinPrompt puts the argument prompt before the piped input.
func joinPrompt(prefix, stdin string) string {
	switch {
	case prefix == "":
		return stdin
	case stdin == "":
		return prefix
	default:
		return prefix + "\n\n" + stdin
	}
}
