package shell

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Name is the tool name exposed to the model.
const Name = "shell"

const description = "Run shell commands in the workspace directory. " +
	"Commands run with sh -c and are non-interactive. " +
	"Long-running dev servers and watchers must be backgrounded with a trailing ' &'. " +
	"Returns stdout, stderr and the outcome of each command as JSON."

// NewTool exposes e as the shell tool.
func NewTool(e *Executor) tools.Tool {
	return tools.New(Name, description, func(ctx context.Context, action Action) (string, error) {
		if len(action.Commands) == 0 {
			return "", errs.NewToolError(Name, errs.CodeInvalidArguments, "commands must not be empty")
		}
		bts, err := json.Marshal(e.Run(ctx, action))
		if err != nil {
			return "", fmt.Errorf("encode shell result: %w", err)
		}
		return string(bts), nil
	})
}
