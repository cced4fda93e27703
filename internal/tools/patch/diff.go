package patch

import (
	"fmt"
	"strings"
)

// Mode selects how a V4A diff is applied.
type Mode int

// Diff modes.
const (
	ModeUpdate Mode = iota
	ModeCreate
)

const endOfFile = "*** End of File"

// envelope lines may wrap a diff and carry no content.
var envelopePrefixes = []string{
	"*** Begin Patch",
	"*** End Patch",
	"*** Update File:",
	"*** Add File:",
	"*** Delete File:",
	"*** Move to:",
}

type hunk struct {
	anchors []string
	lines   []hunkLine
	eof     bool
}

type hunkLine struct {
	op   byte // ' ', '-' or '+'
	text string
}

func (h *hunk) before() []string {
	out := make([]string, 0, len(h.lines))
	for _, l := range h.lines {
		if l.op != '+' {
			out = append(out, l.text)
		}
	}
	return out
}

func (h *hunk) after() []string {
	out := make([]string, 0, len(h.lines))
	for _, l := range h.lines {
		if l.op != '-' {
			out = append(out, l.text)
		}
	}
	return out
}

// ApplyDiff applies a V4A diff to input.
//
// In create mode every diff line must start with "+" and input is ignored.
// In update mode the diff is a sequence of hunks; "@@ anchor" lines move the
// cursor past a matching line, and each hunk's context and deletions must be
// found at or after the cursor. Matching falls back from exact to trailing
// whitespace trimmed to fully trimmed.
func ApplyDiff(input, diff string, mode Mode) (string, error) {
	diffLines := splitLines(strings.ReplaceAll(diff, "\r\n", "\n"))
	if mode == ModeCreate {
		return applyCreate(diffLines)
	}

	eol := "\n"
	if strings.Contains(input, "\r\n") {
		eol = "\r\n"
		input = strings.ReplaceAll(input, "\r\n", "\n")
	}
	trailingNewline := input == "" || strings.HasSuffix(input, "\n")
	lines := splitLines(input)

	hunks, err := parseHunks(diffLines)
	if err != nil {
		return "", err
	}

	cursor := 0
	for _, h := range hunks {
		for _, anchor := range h.anchors {
			idx := find(lines, []string{anchor}, cursor, false)
			if idx < 0 {
				return "", fmt.Errorf("could not find anchor %q", anchor)
			}
			cursor = idx + 1
		}

		oldLines, newLines := h.before(), h.after()
		pos := cursor
		switch {
		case len(oldLines) == 0 && h.eof:
			pos = len(lines)
		case len(oldLines) > 0:
			pos = find(lines, oldLines, cursor, h.eof)
			if pos < 0 {
				return "", fmt.Errorf("could not find context line %q", firstUnmatched(lines, oldLines, cursor))
			}
		}

		// Context lines keep the file's text so fuzzy matches do not
		// rewrite indentation.
		replaced := make([]string, 0, len(lines)-len(oldLines)+len(newLines))
		replaced = append(replaced, lines[:pos]...)
		at := pos
		for _, l := range h.lines {
			switch l.op {
			case ' ':
				replaced = append(replaced, lines[at])
				at++
			case '-':
				at++
			default:
				replaced = append(replaced, l.text)
			}
		}
		replaced = append(replaced, lines[at:]...)
		lines = replaced
		cursor = pos + len(newLines)
	}

	out := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		out += "\n"
	}
	if eol != "\n" {
		out = strings.ReplaceAll(out, "\n", eol)
	}
	return out, nil
}

func applyCreate(diffLines []string) (string, error) {
	var sb strings.Builder
	for _, line := range diffLines {
		if isEnvelope(line) {
			continue
		}
		text, ok := strings.CutPrefix(line, "+")
		if !ok {
			return "", fmt.Errorf("invalid line in create diff, every line must start with '+': %q", line)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func parseHunks(diffLines []string) ([]*hunk, error) {
	var hunks []*hunk
	cur := &hunk{}
	flush := func() {
		if len(cur.anchors) > 0 || len(cur.lines) > 0 || cur.eof {
			hunks = append(hunks, cur)
		}
		cur = &hunk{}
	}

	for _, line := range diffLines {
		switch {
		case line == endOfFile:
			cur.eof = true
		case isEnvelope(line):
			continue
		case strings.HasPrefix(line, "@@"):
			if len(cur.lines) > 0 || cur.eof {
				flush()
			}
			if anchor := strings.TrimSpace(strings.TrimPrefix(line, "@@")); anchor != "" {
				cur.anchors = append(cur.anchors, anchor)
			}
		case line == "":
			cur.lines = append(cur.lines, hunkLine{op: ' '})
		case line[0] == ' ' || line[0] == '-' || line[0] == '+':
			if cur.eof {
				return nil, fmt.Errorf("diff line after %q: %q", endOfFile, line)
			}
			cur.lines = append(cur.lines, hunkLine{op: line[0], text: line[1:]})
		default:
			return nil, fmt.Errorf("invalid diff line %q: lines must start with ' ', '-', '+' or '@@'", line)
		}
	}
	flush()
	return hunks, nil
}

func isEnvelope(line string) bool {
	for _, p := range envelopePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// splitLines splits s on "\n", dropping the empty element a trailing newline
// would produce.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

var fuzzLevels = []func(string) string{
	func(s string) string { return s },
	func(s string) string { return strings.TrimRight(s, " \t") },
	strings.TrimSpace,
}

// find returns the index of the first occurrence of block in lines at or
// after start, preferring stricter matches. With eof set, the block must sit
// at the end of the file.
func find(lines, block []string, start int, eof bool) int {
	if len(block) > len(lines) {
		return -1
	}
	for _, norm := range fuzzLevels {
		if eof {
			at := len(lines) - len(block)
			if at >= start && matchAt(lines, block, at, norm) {
				return at
			}
			continue
		}
		for i := start; i+len(block) <= len(lines); i++ {
			if matchAt(lines, block, i, norm) {
				return i
			}
		}
	}
	return -1
}

func matchAt(lines, block []string, at int, norm func(string) string) bool {
	for j, b := range block {
		if norm(lines[at+j]) != norm(b) {
			return false
		}
	}
	return true
}

// firstUnmatched picks the block line to report when a hunk does not apply:
// the first line that appears nowhere after the cursor, or the first line.
func firstUnmatched(lines, block []string, start int) string {
	for _, b := range block {
		if find(lines, []string{b}, start, false) < 0 {
			return b
		}
	}
	return block[0]
}
