// Package plan implements the update_plan tool and keeps the current plan
// for the UI.
package plan

import (
	"context"
	"strings"
	"sync"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Name is the tool name exposed to the model.
const Name = "update_plan"

// Status of a plan step.
type Status string

// Step statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Step is a single plan item.
type Step struct {
	Step   string `json:"step" jsonschema_description:"Short description of the step."`
	Status Status `json:"status" jsonschema:"enum=pending,enum=in_progress,enum=completed"`
}

// Plan is the full plan sent on every update.
type Plan struct {
	Explanation string `json:"explanation,omitempty" jsonschema_description:"Optional note about what changed."`
	Steps       []Step `json:"plan" jsonschema_description:"The complete list of steps. At most one step may be in_progress."`
}

// Validate checks the plan invariants.
func (p Plan) Validate() error {
	inProgress := 0
	for i, s := range p.Steps {
		if strings.TrimSpace(s.Step) == "" {
			return errs.NewToolError(Name, errs.CodeInvalidArguments, "step %d is empty", i+1)
		}
		switch s.Status {
		case StatusPending, StatusCompleted:
		case StatusInProgress:
			inProgress++
		default:
			return errs.NewToolError(Name, errs.CodeInvalidArguments, "step %d has invalid status %q", i+1, s.Status)
		}
	}
	if inProgress > 1 {
		return errs.NewToolError(Name, errs.CodeInvalidArguments, "at most one step can be in_progress, got %d", inProgress)
	}
	return nil
}

// Checklist renders the plan as a markdown checklist.
func (p Plan) Checklist() string {
	var sb strings.Builder
	if p.Explanation != "" {
		sb.WriteString(p.Explanation)
		sb.WriteString("\n")
	}
	for _, s := range p.Steps {
		switch s.Status {
		case StatusCompleted:
			sb.WriteString("- [x] ")
		case StatusInProgress:
			sb.WriteString("- [~] ")
		default:
			sb.WriteString("- [ ] ")
		}
		sb.WriteString(s.Step)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// Tracker holds the latest plan and notifies subscribers on change.
type Tracker struct {
	mu   sync.Mutex
	plan Plan
	subs []func(Plan)
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Current returns a copy of the latest plan.
func (t *Tracker) Current() Plan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.plan)
}

// Subscribe registers fn to receive every accepted plan.
func (t *Tracker) Subscribe(fn func(Plan)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Update validates p and replaces the current plan.
func (t *Tracker) Update(p Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.plan = clone(p)
	subs := append([]func(Plan){}, t.subs...)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(clone(p))
	}
	return nil
}

func clone(p Plan) Plan {
	p.Steps = append([]Step(nil), p.Steps...)
	return p
}

// NewTool exposes t as the update_plan tool.
func NewTool(t *Tracker) tools.Tool {
	return tools.New(Name, "Record the task plan. Send the complete list of steps each time, marking at most one step in_progress.",
		func(_ context.Context, p Plan) (string, error) {
			if err := t.Update(p); err != nil {
				return "", err
			}
			if len(p.Steps) == 0 {
				return "Plan updated", nil
			}
			return "Plan updated\n" + p.Checklist(), nil
		})
}
