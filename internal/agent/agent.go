package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	xstrings "github.com/charmbracelet/x/exp/strings"
	"github.com/fsnotify/fsnotify"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/proto"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Agent binds a model, a system prompt and a set of tools.
type Agent struct {
	Name         string
	Description  string
	Instructions string
	API          string
	Model        string
	Reasoning    proto.Reasoning
	Tools        []string
}

// ThreadLoader returns the stored messages of a thread. Unknown threads
// return no messages and no error.
type ThreadLoader func(ctx context.Context, threadID string) ([]proto.Message, error)

// ThreadSaver persists the messages of a thread after a response.
type ThreadSaver func(ctx context.Context, threadID string, messages []proto.Message) error

// Agency hosts the agents. The first agent is the entry agent.
type Agency struct {
	Name               string
	SharedInstructions string
	Agents             []Agent

	service  *Service
	registry *tools.Registry
	load     ThreadLoader
	save     ThreadSaver
	log      logging.Logger

	mu      sync.Mutex
	prompts map[string]string
}

// Option configures an Agency.
type Option func(*options)

type options struct {
	load      ThreadLoader
	save      ThreadSaver
	log       logging.Logger
	newClient ClientFactory
}

// WithThreadLoader sets the callback GetResponse uses to load history.
func WithThreadLoader(fn ThreadLoader) Option {
	return func(o *options) { o.load = fn }
}

// WithThreadSaver sets the callback GetResponse uses to store history.
func WithThreadSaver(fn ThreadSaver) Option {
	return func(o *options) { o.save = fn }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClientFactory replaces the fantasy client constructor.
func WithClientFactory(fn ClientFactory) Option {
	return func(o *options) { o.newClient = fn }
}

// NewAgency builds the agency described by cfg. Every tool an agent lists
// must be registered.
func NewAgency(cfg *config.Config, registry *tools.Registry, opts ...Option) (*Agency, error) {
	o := options{log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	entry := cfg.EntryAgent()
	if _, ok := cfg.Agents[entry]; !ok {
		return nil, errs.Error{
			Err:    errs.UserErrorf("Available agents are: %s", xstrings.EnglishJoin(agentNames(cfg), true)),
			Reason: fmt.Sprintf("Agent %s is not configured.", entry),
		}
	}

	names := []string{entry}
	for _, name := range agentNames(cfg) {
		if name != entry {
			names = append(names, name)
		}
	}

	available := registry.Names()
	agents := make([]Agent, 0, len(names))
	for _, name := range names {
		ac := cfg.Agents[name]
		for _, tool := range ac.Tools {
			if !slices.Contains(available, tool) {
				return nil, errs.Error{
					Err:    fmt.Errorf("unknown tool %q", tool),
					Reason: fmt.Sprintf("Agent %s uses an unknown tool; available tools are %s.", name, xstrings.EnglishJoin(available, true)),
				}
			}
		}
		agents = append(agents, Agent{
			Name:         name,
			Description:  ac.Description,
			Instructions: ac.Instructions,
			API:          ac.API,
			Model:        ac.Model,
			Reasoning:    proto.Reasoning{Effort: ac.ReasoningEffort, Summary: ac.ReasoningSummary},
			Tools:        append([]string(nil), ac.Tools...),
		})
	}

	log := o.log.With("component", "agency")
	service := NewService(cfg, log)
	if o.newClient != nil {
		service.newClient = o.newClient
	}

	return &Agency{
		Name:               cfg.Agency.Name,
		SharedInstructions: cfg.Agency.SharedInstructions,
		Agents:             agents,
		service:            service,
		registry:           registry,
		load:               o.load,
		save:               o.save,
		log:                log,
		prompts:            map[string]string{},
	}, nil
}

func agentNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Entry returns the entry agent.
func (a *Agency) Entry() Agent { return a.Agents[0] }

// Agent returns the named agent.
func (a *Agency) Agent(name string) (Agent, bool) {
	for _, agent := range a.Agents {
		if agent.Name == name {
			return agent, true
		}
	}
	return Agent{}, false
}

// Service returns the service that runs the agency's requests.
func (a *Agency) Service() *Service { return a.service }

// SystemPrompt returns the shared instructions followed by the agent's own,
// separated by a blank line. Empty parts are skipped.
func (a *Agency) SystemPrompt(agent Agent) (string, error) {
	shared, err := a.instructions(a.SharedInstructions)
	if err != nil {
		return "", err
	}
	own, err := a.instructions(agent.Instructions)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{shared, own} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// instructions resolves ref, caching the result until Watch sees the file
// change. Missing instruction files resolve to nothing.
func (a *Agency) instructions(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if text, ok := a.prompts[ref]; ok {
		return text, nil
	}
	text, err := config.LoadMsg(ref)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Warn("instructions.missing", "ref", ref)
		text, err = "", nil
	}
	if err != nil {
		return "", errs.Error{Err: err, Reason: fmt.Sprintf("Could not load instructions %s.", ref)}
	}
	a.prompts[ref] = text
	return text, nil
}

func (a *Agency) forget(ref string) {
	a.mu.Lock()
	delete(a.prompts, ref)
	a.mu.Unlock()
}

// Watch reloads instruction files when they change, until ctx is done.
// Directories are watched rather than files so editors that replace files
// on save are noticed.
func (a *Agency) Watch(ctx context.Context) error {
	watched := map[string][]string{}
	refs := []string{a.SharedInstructions}
	for _, agent := range a.Agents {
		refs = append(refs, agent.Instructions)
	}
	for _, ref := range refs {
		path, ok := config.PathOf(ref)
		if !ok {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		watched[abs] = append(watched[abs], ref)
	}
	if len(watched) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch instructions: %w", err)
	}
	dirs := map[string]struct{}{}
	for path := range watched {
		dir := filepath.Dir(path)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := w.Add(dir); err != nil {
			a.log.Warn("instructions.watch.error", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = struct{}{}
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				for _, ref := range watched[filepath.Clean(event.Name)] {
					a.forget(ref)
					a.log.Info("instructions.reload", "path", event.Name, "op", event.Op.String())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				a.log.Warn("instructions.watch.error", "error", err)
			}
		}
	}()
	return nil
}

// Send runs one turn of agent: the prompt is answered on top of history,
// calling tools until the model stops asking for them.
func (a *Agency) Send(ctx context.Context, agent Agent, history []proto.Message, prompt string, h Handler) (Response, error) {
	system, err := a.SystemPrompt(agent)
	if err != nil {
		return Response{}, err
	}
	defs, err := a.registry.Definitions(agent.Tools...)
	if err != nil {
		return Response{}, errs.Error{Err: err, Reason: fmt.Sprintf("Could not prepare the tools of %s.", agent.Name)}
	}
	req := StreamRequest{
		Agent:   agent,
		System:  system,
		History: history,
		Prompt:  prompt,
		Tools:   defs,
		Caller:  a.callTool(agent),
	}
	return a.service.Run(ctx, req, h)
}

// callTool restricts the registry to the tools agent was given.
func (a *Agency) callTool(agent Agent) proto.ToolCaller {
	return func(ctx context.Context, name string, data []byte) (string, error) {
		if !slices.Contains(agent.Tools, name) {
			return "", errs.NewToolError(name, errs.CodeNotFound, "tool %q is not available to %s", name, agent.Name)
		}
		return a.registry.Call(ctx, name, data)
	}
}

// GetResponse answers prompt with the entry agent on the thread threadID.
// History comes from the thread loader and, when a saver is configured, the
// updated thread is stored afterwards.
func (a *Agency) GetResponse(ctx context.Context, threadID, prompt string) (Response, error) {
	return a.StreamResponse(ctx, threadID, prompt, Handler{})
}

// StreamResponse is GetResponse with progress reported to h.
func (a *Agency) StreamResponse(ctx context.Context, threadID, prompt string, h Handler) (Response, error) {
	var history []proto.Message
	if a.load != nil && threadID != "" {
		msgs, err := a.load(ctx, threadID)
		if err != nil {
			return Response{}, errs.Error{Err: err, Reason: fmt.Sprintf("Could not load thread %s.", threadID)}
		}
		history = msgs
	}

	resp, err := a.Send(ctx, a.Entry(), history, prompt, h)
	if err != nil {
		return resp, err
	}
	if a.save != nil && threadID != "" {
		if err := a.save(ctx, threadID, resp.Messages); err != nil {
			return resp, errs.Error{Err: err, Reason: fmt.Sprintf("Could not save thread %s.", threadID)}
		}
	}
	return resp, nil
}
