// Package patch implements the apply_patch tool: a workspace-rooted editor
// that creates, updates and deletes files from V4A diffs.
package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
)

// Operation types.
const (
	OpCreateFile = "create_file"
	OpUpdateFile = "update_file"
	OpDeleteFile = "delete_file"
)

// Operation is a single file operation requested by the model.
type Operation struct {
	Type string `json:"type" jsonschema:"enum=create_file,enum=update_file,enum=delete_file" jsonschema_description:"The file operation to perform."`
	Path string `json:"path" jsonschema_description:"File path relative to the workspace root."`
	Diff string `json:"diff,omitempty" jsonschema_description:"V4A diff. For create_file every line starts with '+'. For update_file use '@@' sections with ' ', '-' and '+' lines."`
}

// Change describes an applied operation.
type Change struct {
	Op   string
	Path string
	// Diff is a unified diff of the change.
	Diff string
}

// Editor applies operations inside a root directory.
type Editor struct {
	root     string
	log      logging.Logger
	onChange func(Change)
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Editor) { e.log = l }
}

// WithChangeHook registers fn to be called after every applied operation.
func WithChangeHook(fn func(Change)) Option {
	return func(e *Editor) { e.onChange = fn }
}

// NewEditor creates an editor rooted at root. The root is created if needed.
func NewEditor(root string, opts ...Option) (*Editor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	e := &Editor{root: abs, log: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Root returns the absolute workspace root.
func (e *Editor) Root() string { return e.root }

// Apply performs op and returns the message sent back to the model.
func (e *Editor) Apply(op Operation) (string, error) {
	switch op.Type {
	case OpCreateFile:
		return e.CreateFile(op.Path, op.Diff)
	case OpUpdateFile:
		return e.UpdateFile(op.Path, op.Diff)
	case OpDeleteFile:
		return e.DeleteFile(op.Path)
	default:
		return "", errs.NewToolError(Name, errs.CodeInvalidArguments, "unknown operation type %q", op.Type)
	}
}

// CreateFile writes a new file from a create-mode diff, creating parent
// directories as needed. An existing file is overwritten.
func (e *Editor) CreateFile(path, diff string) (string, error) {
	target, rel, err := e.resolve(path)
	if err != nil {
		return "", err
	}
	content, err := ApplyDiff("", diff, ModeCreate)
	if err != nil {
		return "", errs.NewToolError(Name, errs.CodeInvalidArguments, "%s: %v", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	var previous string
	if bts, err := os.ReadFile(target); err == nil {
		previous = string(bts)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	e.changed(OpCreateFile, rel, previous, content)
	return "Created " + rel, nil
}

// UpdateFile applies an update-mode diff to an existing file.
func (e *Editor) UpdateFile(path, diff string) (string, error) {
	target, rel, err := e.resolve(path)
	if err != nil {
		return "", err
	}
	bts, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errs.NewToolError(Name, errs.CodeNotFound, "File not found: %s", rel)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	original := string(bts)
	patched, err := ApplyDiff(original, diff, ModeUpdate)
	if err != nil {
		return "", errs.NewToolError(Name, errs.CodeInvalidArguments, "%s: %v", rel, err)
	}
	if err := os.WriteFile(target, []byte(patched), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	e.changed(OpUpdateFile, rel, original, patched)
	return "Updated " + rel, nil
}

// DeleteFile removes a file. A missing file is not an error.
func (e *Editor) DeleteFile(path string) (string, error) {
	target, rel, err := e.resolve(path)
	if err != nil {
		return "", err
	}
	var previous string
	if bts, err := os.ReadFile(target); err == nil {
		previous = string(bts)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("delete %s: %w", rel, err)
	}
	e.changed(OpDeleteFile, rel, previous, "")
	return "Deleted " + rel, nil
}

func (e *Editor) changed(op, rel, before, after string) {
	diff := udiff.Unified("a/"+rel, "b/"+rel, before, after)
	e.log.Debug("apply_patch", "op", op, "path", rel, "diff", diff)
	if e.onChange != nil {
		e.onChange(Change{Op: op, Path: rel, Diff: diff})
	}
}

// resolve maps path to an absolute path inside the root, following
// symlinks for the parts that exist.
func (e *Editor) resolve(path string) (string, string, error) {
	if strings.TrimSpace(path) == "" {
		return "", "", errs.NewToolError(Name, errs.CodeInvalidArguments, "path must not be empty")
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.root, target)
	}
	target = evalExisting(filepath.Clean(target))

	rel, err := filepath.Rel(e.root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errs.NewToolError(Name, errs.CodeOutsideWorkspace, "Operation outside workspace: %s", path)
	}
	return target, filepath.ToSlash(rel), nil
}

// evalExisting resolves symlinks in the longest existing prefix of path.
func evalExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(evalExisting(parent), filepath.Base(path))
}
