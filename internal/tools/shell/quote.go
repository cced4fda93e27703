package shell

import (
	"regexp"
	"strings"
)

var unsafeShellChars = regexp.MustCompile(`[^\w@%+=:,./-]`)

// Quote returns a shell-escaped version of s, safe to use as a single
// argument in a POSIX shell command line.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !unsafeShellChars.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
