// Package tools defines the tool adapters exposed to agents and the registry
// that dispatches model tool calls to them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/proto"
)

// Tool is a function the model can call.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Func adapts a typed handler into a Tool. The JSON schema is reflected from
// Args, so struct tags drive what the model sees.
type Func[Args any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(context.Context, Args) (string, error)
}

// New creates a Func tool.
func New[Args any](name, description string, fn func(context.Context, Args) (string, error)) *Func[Args] {
	var zero Args
	return &Func[Args]{
		name:        name,
		description: description,
		schema:      SchemaFor(zero),
		fn:          fn,
	}
}

// Name implements Tool.
func (f *Func[Args]) Name() string { return f.name }

// Description implements Tool.
func (f *Func[Args]) Description() string { return f.description }

// Schema implements Tool.
func (f *Func[Args]) Schema() map[string]any { return f.schema }

// Call implements Tool.
func (f *Func[Args]) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args Args
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", errs.InvalidArguments(f.name, err)
		}
	}
	return f.fn(ctx, args)
}

// SchemaFor reflects a JSON schema object for v.
func SchemaFor(v any) map[string]any {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	bts, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	var schema map[string]any
	if err := json.Unmarshal(bts, &schema); err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// Registry holds the tools available to agents.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   logging.Logger
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(log logging.Logger, tools ...Tool) (*Registry, error) {
	if log == nil {
		log = logging.Nop()
	}
	r := &Registry{tools: map[string]Tool{}, log: log}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("tool %q is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns the model-facing definitions for the named tools, in
// the given order. Unknown names are reported as an error.
func (r *Registry) Definitions(names ...string) ([]proto.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]proto.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		defs = append(defs, proto.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs, nil
}

// Call dispatches a tool call by name.
func (r *Registry) Call(ctx context.Context, name string, args []byte) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", errs.NewToolError(name, errs.CodeNotFound, "tool %q does not exist", name)
	}
	r.log.Debug("tool.call.start", "tool", name, "args", string(args))
	start := time.Now()
	out, err := t.Call(ctx, args)
	logging.LogToolCall(r.log, name, time.Since(start), err)
	return out, err
}
