package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadMsg resolves an instructions reference into text.
//
// Supported inputs:
//   - raw strings
//   - http(s) URLs
//   - file:// paths
//   - bare paths ending in .md
//
// For markdown files, YAML frontmatter is stripped.
func LoadMsg(msg string) (string, error) {
	if strings.HasPrefix(msg, "https://") || strings.HasPrefix(msg, "http://") {
		return fetchMsg(msg)
	}

	if path, ok := strings.CutPrefix(msg, "file://"); ok {
		return readMsgFile(path)
	}

	if IsPathRef(msg) {
		return readMsgFile(msg)
	}

	return msg, nil
}

// IsPathRef reports whether msg names a local file rather than inline text.
func IsPathRef(msg string) bool {
	if strings.HasPrefix(msg, "file://") {
		return true
	}
	return !strings.ContainsAny(msg, "\n") && strings.EqualFold(filepath.Ext(msg), ".md")
}

// PathOf returns the local file path referenced by msg, if any.
func PathOf(msg string) (string, bool) {
	if !IsPathRef(msg) {
		return "", false
	}
	return strings.TrimPrefix(msg, "file://"), true
}

func fetchMsg(url string) (string, error) {
	const maxRemoteMsgBytes = 2 * 1024 * 1024
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch instructions: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch instructions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bts, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return "", fmt.Errorf("fetch instructions: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bts)))
	}
	bts, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteMsgBytes))
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	if len(bts) >= maxRemoteMsgBytes {
		return "", fmt.Errorf("read instructions: response too large (>%d bytes)", maxRemoteMsgBytes)
	}
	return string(bts), nil
}

func readMsgFile(path string) (string, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read instructions file: %w", err)
	}
	content := string(bts)
	if strings.EqualFold(filepath.Ext(path), ".md") {
		return StripYAMLFrontmatter(content)
	}
	return content, nil
}

// StripYAMLFrontmatter removes YAML frontmatter from markdown content.
func StripYAMLFrontmatter(content string) (string, error) {
	var discard map[string]any
	return ParseFrontmatter(content, &discard)
}

// ParseFrontmatter decodes the YAML frontmatter of content into out and
// returns the remaining body. Content without frontmatter is returned as is.
func ParseFrontmatter(content string, out any) (string, error) {
	lines := strings.Split(content, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return content, nil
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return "", fmt.Errorf("invalid markdown frontmatter: missing closing delimiter")
	}

	frontmatter := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(frontmatter), out); err != nil {
		return "", fmt.Errorf("invalid markdown frontmatter: %w", err)
	}

	body := strings.Join(lines[end+1:], "\n")
	return strings.TrimLeft(body, "\r\n"), nil
}
