// Package mcp exposes the tools of configured MCP servers as agent tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Dialer creates an unstarted client for a server.
type Dialer func(name string, server config.MCPServerConfig) (*client.Client, error)

// Service connects to the enabled MCP servers. Clients are created lazily
// and reused until Close.
type Service struct {
	servers   map[string]config.MCPServerConfig
	disabled  []string
	timeout   time.Duration
	noInherit bool
	dial      Dialer
	log       logging.Logger

	mu      sync.Mutex
	clients map[string]*client.Client
}

// New creates a service from the MCP part of cfg.
func New(cfg *config.Config, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	s := &Service{
		servers:   cfg.MCPServers,
		disabled:  cfg.MCPDisable,
		timeout:   cfg.MCPTimeout,
		noInherit: cfg.MCPNoInheritEnv,
		log:       log.With("component", "mcp"),
		clients:   map[string]*client.Client{},
	}
	s.dial = s.transportClient
	return s
}

// WithDialer replaces how clients are created.
func (s *Service) WithDialer(d Dialer) *Service {
	s.dial = d
	return s
}

// IsEnabled reports whether the named MCP server is enabled.
func (s *Service) IsEnabled(name string) bool {
	return !slices.Contains(s.disabled, "*") &&
		!slices.Contains(s.disabled, name)
}

// EnabledServers iterates enabled MCP servers in stable order.
func (s *Service) EnabledServers() iter.Seq2[string, config.MCPServerConfig] {
	return func(yield func(string, config.MCPServerConfig) bool) {
		names := slices.Collect(maps.Keys(s.servers))
		slices.Sort(names)
		for _, name := range names {
			if !s.IsEnabled(name) {
				continue
			}
			if !yield(name, s.servers[name]) {
				return
			}
		}
	}
}

// Tools lists the tools of every enabled server, grouped by server name.
func (s *Service) Tools(ctx context.Context) (map[string][]mcp.Tool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var mu sync.Mutex
	var wg errgroup.Group
	result := map[string][]mcp.Tool{}
	for sname := range s.EnabledServers() {
		wg.Go(func() error {
			serverTools, err := s.toolsFor(ctx, sname)
			if errors.Is(err, context.DeadlineExceeded) {
				return errs.Wrap(
					fmt.Errorf("timeout while listing tools for %q - make sure the configuration is correct. If your server requires a docker container, make sure it's running", sname),
					"Could not list tools",
				)
			}
			if err != nil {
				return errs.Wrap(err, "Could not list tools")
			}
			mu.Lock()
			result[sname] = append(result[sname], serverTools...)
			mu.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("mcp tools: %w", err)
	}
	return result, nil
}

// AgentTools wraps every listed MCP tool as a tools.Tool named
// <server>_<tool>, ordered by server then tool name.
func (s *Service) AgentTools(ctx context.Context) ([]tools.Tool, error) {
	listed, err := s.Tools(ctx)
	if err != nil {
		return nil, err
	}
	var out []tools.Tool
	for _, sname := range slices.Sorted(maps.Keys(listed)) {
		serverTools := listed[sname]
		slices.SortFunc(serverTools, func(a, b mcp.Tool) int { return strings.Compare(a.Name, b.Name) })
		for _, t := range serverTools {
			out = append(out, &remoteTool{svc: s, server: sname, tool: t, schema: inputSchema(t)})
		}
	}
	return out, nil
}

// CallTool executes a tool call against the configured server.
// fullName must be of the form: <server>_<tool>.
func (s *Service) CallTool(ctx context.Context, fullName string, data []byte) (string, error) {
	sname, tool, ok := strings.Cut(fullName, "_")
	if !ok {
		return "", fmt.Errorf("mcp: invalid tool name: %q", fullName)
	}
	return s.call(ctx, sname, tool, data)
}

func (s *Service) call(ctx context.Context, sname, tool string, data []byte) (string, error) {
	if _, ok := s.servers[sname]; !ok {
		return "", fmt.Errorf("mcp: invalid server name: %q", sname)
	}
	if !s.IsEnabled(sname) {
		return "", fmt.Errorf("mcp: server is disabled: %q", sname)
	}
	cli, err := s.client(ctx, sname)
	if err != nil {
		return "", fmt.Errorf("mcp: %w", err)
	}

	var args map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return "", errs.InvalidArguments(sname+"_"+tool, err)
		}
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = tool
	request.Params.Arguments = args
	result, err := cli.CallTool(ctx, request)
	if err != nil {
		return "", fmt.Errorf("mcp: %w", err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		switch content := content.(type) {
		case mcp.TextContent:
			sb.WriteString(content.Text)
		default:
			sb.WriteString("[Non-text content]")
		}
	}

	if result.IsError {
		return "", errs.NewToolError(sname+"_"+tool, errs.CodeExecution, "%s", sb.String())
	}
	return sb.String(), nil
}

// Close shuts down every open client.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []error
	for name, cli := range s.clients {
		if err := cli.Close(); err != nil {
			all = append(all, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.clients, name)
	}
	return errors.Join(all...)
}

func (s *Service) client(ctx context.Context, name string) (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cli, ok := s.clients[name]; ok {
		return cli, nil
	}

	cli, err := s.dial(name, s.servers[name])
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := cli.Start(context.WithoutCancel(ctx)); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}
	s.log.Debug("mcp client started", "server", name)
	s.clients[name] = cli
	return cli, nil
}

func (s *Service) transportClient(_ string, server config.MCPServerConfig) (*client.Client, error) {
	switch server.Type {
	case "", "stdio":
		env := server.Env
		if !s.noInherit {
			env = append(os.Environ(), server.Env...)
		}
		return client.NewStdioMCPClient(server.Command, env, server.Args...)
	case "sse":
		return client.NewSSEMCPClient(server.URL)
	case "http":
		return client.NewStreamableHttpClient(server.URL)
	default:
		return nil, fmt.Errorf("unsupported MCP server type: %q, supported types are: stdio, sse, http", server.Type)
	}
}

func (s *Service) toolsFor(ctx context.Context, name string) ([]mcp.Tool, error) {
	cli, err := s.client(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("could not setup %s: %w", name, err)
	}
	listed, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("could not setup %s: %w", name, err)
	}
	return listed.Tools, nil
}

func inputSchema(t mcp.Tool) map[string]any {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(t.InputSchema); err != nil {
			return map[string]any{"type": "object"}
		}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

type remoteTool struct {
	svc    *Service
	server string
	tool   mcp.Tool
	schema map[string]any
}

func (t *remoteTool) Name() string           { return t.server + "_" + t.tool.Name }
func (t *remoteTool) Description() string    { return t.tool.Description }
func (t *remoteTool) Schema() map[string]any { return t.schema }

func (t *remoteTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	return t.svc.call(ctx, t.server, t.tool.Name, args)
}
