// Package shell implements the shell tool: it runs model-issued commands in
// the workspace with duration and inactivity watchdogs, rewrites scaffolding
// commands so they never block on prompts, and detaches dev servers.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotcommander/codingagency/internal/config"
	"github.com/dotcommander/codingagency/internal/logging"
)

// Defaults used when no settings are given.
const (
	DefaultTimeout           = 120 * time.Second
	DefaultInactivityTimeout = 20 * time.Second

	inactivityPollInterval = 250 * time.Millisecond
	ioWaitDelay            = 2 * time.Second
)

const devServerMessage = "Command appears to start a long-running dev server or watcher. " +
	"Always run such commands in the background by appending ' &' " +
	"(for example 'npm run dev &' or 'uvicorn app:app --reload &')."

// Outcome types.
const (
	OutcomeExit    = "exit"
	OutcomeTimeout = "timeout"
)

// Options configure an Executor. Zero timeouts disable the watchdog.
type Options struct {
	Dir                 string
	Timeout             time.Duration
	InactivityTimeout   time.Duration
	BackgroundOnTimeout bool
	ForceNonInteractive bool
	ReactCompiler       string
	Env                 map[string]string
	Logger              logging.Logger
}

// OptionsFromSettings converts shell settings into executor options.
func OptionsFromSettings(dir string, s config.ShellSettings) Options {
	return Options{
		Dir:                 dir,
		Timeout:             seconds(s.TimeoutSeconds),
		InactivityTimeout:   seconds(s.InactivityTimeoutSeconds),
		BackgroundOnTimeout: s.BackgroundOnTimeout,
		ForceNonInteractive: s.ForceNonInteractive,
		ReactCompiler:       s.ReactCompiler,
	}
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// Action is a batch of commands requested by the model.
type Action struct {
	Commands  []string `json:"commands" jsonschema_description:"Shell commands to run in order. Each runs with sh -c in the workspace directory."`
	TimeoutMS *int     `json:"timeout_ms,omitempty" jsonschema_description:"Optional per-command timeout in milliseconds."`
}

// Outcome says how a command ended.
type Outcome struct {
	Type     string `json:"type"`
	ExitCode *int   `json:"exit_code"`
}

// CommandOutput is the result of one command.
type CommandOutput struct {
	Command string  `json:"command"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
	Outcome Outcome `json:"outcome"`
}

// Result is the result of an Action.
type Result struct {
	Output       []CommandOutput   `json:"output"`
	ProviderData map[string]string `json:"provider_data"`
}

// Executor runs shell commands.
type Executor struct {
	opts Options
	env  map[string]string
	log  logging.Logger
}

// NewExecutor creates an Executor. An empty Dir means the current directory.
func NewExecutor(opts Options) *Executor {
	if opts.Dir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.Dir = wd
		}
	}
	if opts.ReactCompiler != "use" {
		opts.ReactCompiler = "no"
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	env := map[string]string{}
	for k, v := range opts.Env {
		env[k] = v
	}
	if opts.ForceNonInteractive {
		for k, v := range nonInteractiveEnv {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}
	return &Executor{opts: opts, env: env, log: log.With("component", "shell")}
}

// nonInteractiveEnv nudges npm, npx, yarn and friends into picking
// defaults instead of prompting.
var nonInteractiveEnv = map[string]string{
	"CI":                             "1",
	"npm_config_yes":                 "true",
	"NPX_YES":                        "1",
	"HUSKY_SKIP_HOOKS":               "1",
	"YARN_ENABLE_IMMUTABLE_INSTALLS": "false",
	"SKIP_PROMPTS":                   "1",
}

// Dir returns the working directory commands run in.
func (e *Executor) Dir() string { return e.opts.Dir }

// Run executes the commands of action in order. It stops after the first
// command that times out.
func (e *Executor) Run(ctx context.Context, action Action) Result {
	outputs := make([]CommandOutput, 0, len(action.Commands))
	for _, command := range action.Commands {
		prepared := e.Prepare(command)

		if RequiresBackground(prepared) {
			if !IsBackgrounded(prepared) && !isDetachedWrapper(prepared) {
				outputs = append(outputs, CommandOutput{
					Command: prepared,
					Stderr:  devServerMessage,
					Outcome: Outcome{Type: OutcomeExit, ExitCode: intPtr(1)},
				})
				continue
			}
			outputs = append(outputs, e.spawnDetached(prepared))
			continue
		}

		// timeout_ms <= 0 keeps the configured timeout.
		timeout := e.opts.Timeout
		if action.TimeoutMS != nil && *action.TimeoutMS > 0 {
			timeout = time.Duration(*action.TimeoutMS) * time.Millisecond
		}

		res := e.runWithWatchdogs(ctx, prepared, timeout)
		outcome := Outcome{Type: OutcomeExit, ExitCode: res.exitCode}
		if res.timedOut {
			outcome.Type = OutcomeTimeout
		}
		outputs = append(outputs, CommandOutput{
			Command: prepared,
			Stdout:  res.stdout,
			Stderr:  res.stderr,
			Outcome: outcome,
		})
		if res.timedOut {
			break
		}
	}
	return Result{
		Output:       outputs,
		ProviderData: map[string]string{"working_directory": e.opts.Dir},
	}
}

func (e *Executor) command(ctx context.Context, command string) *exec.Cmd {
	// #nosec G204 -- running model-issued commands is the point of this tool.
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.opts.Dir
	cmd.Env = os.Environ()
	for k, v := range e.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd
}

func (e *Executor) spawnDetached(command string) CommandOutput {
	// Detached processes must outlive the request context.
	cmd := e.command(context.Background(), command)
	newSession(cmd)
	if err := cmd.Start(); err != nil {
		return CommandOutput{
			Command: command,
			Stderr:  fmt.Sprintf("Failed to start background command: %v", err),
			Outcome: Outcome{Type: OutcomeExit, ExitCode: intPtr(1)},
		}
	}
	pid := cmd.Process.Pid
	go e.reap(cmd, func() error { return cmd.Wait() })
	return CommandOutput{
		Command: command,
		Stdout:  fmt.Sprintf("Detached background command (pid=%d).", pid),
		Outcome: Outcome{Type: OutcomeExit, ExitCode: intPtr(0)},
	}
}

func (e *Executor) reap(cmd *exec.Cmd, wait func() error) {
	if err := wait(); err != nil && !isExitError(err) {
		e.log.Error("Failed to reap background process.", "pid", cmd.Process.Pid, "error", err)
		return
	}
	e.log.Debug("Background process exited.", "pid", cmd.Process.Pid, "exit_code", exitCode(cmd.ProcessState))
}

type runResult struct {
	stdout, stderr string
	exitCode       *int
	timedOut       bool
}

// activityBuffer collects output and records when it last saw any.
type activityBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	discard bool
	last    *atomic.Int64
}

func (b *activityBuffer) Write(p []byte) (int, error) {
	b.last.Store(time.Now().UnixNano())
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.discard {
		b.buf.Write(p)
	}
	return len(p), nil
}

// detach stops collecting and returns what was collected so far.
func (b *activityBuffer) detach() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discard = true
	return b.buf.String()
}

func (b *activityBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (e *Executor) runWithWatchdogs(ctx context.Context, command string, timeout time.Duration) runResult {
	var last atomic.Int64
	last.Store(time.Now().UnixNano())
	stdout := &activityBuffer{last: &last}
	stderr := &activityBuffer{last: &last}

	// The process is not tied to ctx: with background-on-timeout it has to
	// survive this call. Cancellation is handled below.
	cmd := e.command(context.Background(), command)
	ownProcessGroup(cmd)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = ioWaitDelay

	if err := cmd.Start(); err != nil {
		return runResult{stderr: err.Error(), exitCode: intPtr(127)}
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	var pollC <-chan time.Time
	if e.opts.InactivityTimeout > 0 {
		ticker := time.NewTicker(inactivityPollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	var (
		reason   string
		detached bool
	)
loop:
	for {
		select {
		case <-done:
			break loop
		case <-timeoutC:
			if e.opts.BackgroundOnTimeout {
				reason = "duration_background"
				detached = true
				break loop
			}
			reason = "duration"
			e.kill(cmd, done)
			break loop
		case <-pollC:
			if time.Since(time.Unix(0, last.Load())) > e.opts.InactivityTimeout {
				reason = "inactivity"
				e.kill(cmd, done)
				break loop
			}
		case <-ctx.Done():
			reason = "cancelled"
			e.kill(cmd, done)
			break loop
		}
	}

	res := runResult{timedOut: reason != ""}
	if detached {
		res.stderr = stderr.detach()
		stdout.detach()
		go e.reap(cmd, func() error { return <-done })
	} else {
		res.stdout = stdout.String()
		res.stderr = stderr.String()
		res.exitCode = intPtr(exitCode(cmd.ProcessState))
	}

	var message string
	switch reason {
	case "inactivity":
		message = fmt.Sprintf("Command produced no output for %s seconds and was terminated (pid=%d).",
			formatSeconds(e.opts.InactivityTimeout), pid)
	case "duration":
		message = fmt.Sprintf("Command exceeded timeout of %s seconds and was terminated (pid=%d).",
			formatSeconds(timeout), pid)
	case "duration_background":
		message = fmt.Sprintf("Command exceeded timeout of %s seconds and is still running in the background (pid=%d).",
			formatSeconds(timeout), pid)
	case "cancelled":
		message = fmt.Sprintf("Command was cancelled and terminated (pid=%d).", pid)
	}
	if message != "" {
		if res.stderr != "" {
			res.stderr += "\n"
		}
		res.stderr += message
	}

	if res.timedOut {
		e.log.Warn("Command timed out.", "command", command, "reason", reason, "pid", pid)
	} else {
		e.log.Debug("Command completed.", "command", command, "exit_code", *res.exitCode)
	}
	return res
}

// kill terminates the process group and waits for Wait to return.
func (e *Executor) kill(cmd *exec.Cmd, done <-chan error) {
	if err := killProcessGroup(cmd); err != nil {
		e.log.Warn("Could not kill process group.", "pid", cmd.Process.Pid, "error", err)
	}
	<-done
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay)
}

// formatSeconds renders a duration in seconds with at least one decimal,
// e.g. "120.0" or "0.5".
func formatSeconds(d time.Duration) string {
	s := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func intPtr(v int) *int { return &v }
