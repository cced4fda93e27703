package patch

import (
	"context"

	"github.com/dotcommander/codingagency/internal/tools"
)

// Name is the tool name exposed to the model.
const Name = "apply_patch"

const description = "Create, update or delete a file in the workspace using a V4A diff. " +
	"create_file takes the full file content with every line prefixed by '+'. " +
	"update_file takes hunks introduced by '@@' (optionally followed by a line to anchor on) " +
	"with ' ' context lines, '-' removed lines and '+' added lines; include about three lines of context. " +
	"delete_file needs no diff."

// NewTool exposes e as the apply_patch tool.
func NewTool(e *Editor) tools.Tool {
	return tools.New(Name, description, func(_ context.Context, op Operation) (string, error) {
		return e.Apply(op)
	})
}
