package present

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/tools/plan"
)

const maxSummaryWidth = 72

// ToolCallLine renders a one-line summary of a finished tool call.
func ToolCallLine(s Styles, status proto.ToolCallStatus) string {
	mark := s.ToolOK.String()
	detail := summarizeArgs(status.Args)
	if status.Err != nil {
		mark = s.ToolFailed.String()
		detail = status.Err.Error()
	}
	line := mark + " " + s.ToolName.Render(status.Name)
	if detail = firstLine(detail); detail != "" {
		line += " " + s.Comment.Render(ansi.Truncate(detail, maxSummaryWidth, "…"))
	}
	return line
}

// summarizeArgs picks the most telling argument of a tool call.
func summarizeArgs(args []byte) string {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return string(bytes.TrimSpace(args))
	}
	for _, key := range []string{"commands", "path", "query", "zip_file_path", "output_directory"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch v := v.(type) {
		case string:
			return v
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, " && ")
		}
	}
	if op, ok := m["operation"].(map[string]any); ok {
		return fmt.Sprintf("%v %v", op["type"], op["path"])
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// PlanView renders the plan as a styled checklist.
func PlanView(s Styles, p plan.Plan) string {
	if len(p.Steps) == 0 {
		return ""
	}
	var sb strings.Builder
	if p.Explanation != "" {
		sb.WriteString(s.Comment.Render(p.Explanation))
		sb.WriteString("\n")
	}
	for i, step := range p.Steps {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch step.Status {
		case plan.StatusCompleted:
			sb.WriteString("[x] " + s.PlanDone.Render(step.Step))
		case plan.StatusInProgress:
			sb.WriteString("[~] " + s.PlanActive.Render(step.Step))
		default:
			sb.WriteString("[ ] " + s.PlanPending.Render(step.Step))
		}
	}
	return sb.String()
}
