package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dotcommander/codingagency/internal/agent"
	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	imcp "github.com/dotcommander/codingagency/internal/mcp"
	"github.com/dotcommander/codingagency/internal/present"
	"github.com/dotcommander/codingagency/internal/tools"
	"github.com/dotcommander/codingagency/internal/tools/deploy"
	"github.com/dotcommander/codingagency/internal/tools/image"
	"github.com/dotcommander/codingagency/internal/tools/patch"
	"github.com/dotcommander/codingagency/internal/tools/plan"
	"github.com/dotcommander/codingagency/internal/tools/search"
	"github.com/dotcommander/codingagency/internal/tools/shell"
)

// session is everything a headless run or a chat needs: the thread store,
// the tool registry and the agency built on them.
type session struct {
	store   *conversationStore
	agency  *agent.Agency
	tracker *plan.Tracker
	mcp     *imcp.Service
	log     logging.Logger
	closers []io.Closer

	// onPatch, when set, sees every change apply_patch makes.
	onPatch func(patch.Change)
}

// openSession plans the thread, opens the store and wires the tools into a
// new agency. The caller must Close it.
func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	s := &session{tracker: plan.NewTracker()}

	log, logFile, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		s.closers = append(s.closers, logFile)
	}
	log = log.With("session", uuid.NewString())
	s.log = log

	store, err := openConversationStore(cfg.CachePath)
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(err, "Could not open conversation store.")
	}
	s.store = store
	s.closers = append(s.closers, store)

	pl, err := planConversation(cfg, store.DB)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	pl.apply(cfg)

	registry, err := s.registry(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	agency, err := agent.NewAgency(
		cfg,
		registry,
		agent.WithLogger(log),
		agent.WithThreadLoader(store.threadLoader(cfg)),
		agent.WithThreadSaver(store.threadSaver(cfg)),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.agency = agency
	log.Info("session.start",
		"agency", agency.Name,
		"agent", agency.Entry().Name,
		"thread", cfg.CacheWriteToID,
		"workspace", cfg.Workspace,
	)
	return s, nil
}

// Close releases the log file, the store and any MCP clients.
func (s *session) Close() error {
	if s.mcp != nil {
		_ = s.mcp.Close()
	}
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *session) registry(ctx context.Context, cfg *config.Config) (*tools.Registry, error) {
	builtin, err := builtinTools(ctx, cfg, s.log, s.tracker, s.patched)
	if err != nil {
		return nil, err
	}
	registry, err := tools.NewRegistry(s.log, builtin...)
	if err != nil {
		return nil, errs.Wrap(err, "Could not register the tools.")
	}

	if len(cfg.MCPServers) == 0 {
		return registry, nil
	}
	s.mcp = imcp.New(cfg, s.log)
	remote, err := s.mcp.AgentTools(ctx)
	if err != nil {
		s.log.Warn("mcp.tools.failed", "error", err)
		if !cfg.Quiet {
			fmt.Fprintln(os.Stderr, present.StderrStyles().Comment.Render("MCP tools are unavailable: "+err.Error()))
		}
		return registry, nil
	}
	names := make([]string, 0, len(remote))
	for _, t := range remote {
		if err := registry.Register(t); err != nil {
			return nil, errs.Wrap(err, "Could not register the MCP tools.")
		}
		names = append(names, t.Name())
	}
	// MCP tools are offered to every agent.
	for name, ac := range cfg.Agents {
		ac.Tools = append(append([]string(nil), ac.Tools...), names...)
		cfg.Agents[name] = ac
	}
	return registry, nil
}

func (s *session) patched(c patch.Change) {
	if s.onPatch != nil {
		s.onPatch(c)
	}
}

// builtinTools creates the tool adapters rooted at the workspace.
func builtinTools(ctx context.Context, cfg *config.Config, log logging.Logger, tracker *plan.Tracker, onPatch func(patch.Change)) ([]tools.Tool, error) {
	ws, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, errs.Wrap(err, "Could not resolve the workspace.")
	}
	editorOpts := []patch.Option{patch.WithLogger(log)}
	if onPatch != nil {
		editorOpts = append(editorOpts, patch.WithChangeHook(onPatch))
	}
	editor, err := patch.NewEditor(ws, editorOpts...)
	if err != nil {
		return nil, errs.Wrap(err, "Could not create the workspace.")
	}
	opts, err := agent.OpenAIOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	shellOpts := shell.OptionsFromSettings(ws, cfg.Shell)
	shellOpts.Logger = log

	return []tools.Tool{
		patch.NewTool(editor),
		shell.NewTool(shell.NewExecutor(shellOpts)),
		search.NewTool(search.New(cfg.WebSearchModel, log, opts...)),
		image.NewTool(image.New(image.NewOpenAI(cfg.Images.Model, opts...), cfg.Images.Concurrency, log)),
		plan.NewTool(tracker),
		deploy.NewTool(deploy.New(cfg.Deploy.Endpoint, cfg.Deploy.APIKeyEnv, ws, log)),
	}, nil
}

// openLogger sends logs to the log file so the terminal stays clean.
func openLogger(cfg *config.Config) (logging.Logger, io.Closer, error) {
	if cfg.LogFile == "" {
		return logging.Default(), nil, nil
	}
	f, err := logging.OpenFile(cfg.LogFile)
	if err != nil {
		return nil, nil, errs.Wrap(err, "Could not open the log file.")
	}
	log := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: f,
	})
	logging.SetDefault(log)
	return log, f, nil
}
