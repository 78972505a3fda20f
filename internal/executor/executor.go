// Package executor runs agent invocations: it serialises per-session
// access, assembles workspace context, dispatches to a provider with
// retry and recovery, and writes the exchange back to the transcript.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/bootstrap"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/media"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
	"github.com/nextlevelbuilder/opengoat/internal/providers"
	"github.com/nextlevelbuilder/opengoat/internal/runs"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/skills"
	"github.com/nextlevelbuilder/opengoat/internal/stream"
)

// heartbeatInterval paces progress heartbeats while the provider runs.
const heartbeatInterval = 5 * time.Second

// InvocationRequest describes one agent call.
type InvocationRequest struct {
	AgentID     string
	Message     string
	SessionKey  string // empty means the agent's default UI session
	ProjectPath string
	Images      []providers.Image

	// SkillsPrompt overrides the catalog-rendered "## Skills" section.
	SkillsPrompt string
}

// Executor is the invocation engine. Construct with New.
type Executor struct {
	layout   paths.Layout
	agents   *agents.Store
	sessions *sessions.Store
	cfg      *config.Store
	registry *providers.Registry
	skills   *skills.Catalog
	recorder *runs.Recorder
	fallback providers.Provider // gateway RPC path, may be nil
	tracer   trace.Tracer

	mu    sync.Mutex
	locks map[lockKey]*sessionLock

	restarts singleflight.Group
	restart  func(ctx context.Context, command, home string) error
	now      func() time.Time
}

// Options wires the executor's collaborators.
type Options struct {
	Layout   paths.Layout
	Agents   *agents.Store
	Sessions *sessions.Store
	Config   *config.Store
	Registry *providers.Registry
	Skills   *skills.Catalog
	Recorder *runs.Recorder
	Fallback providers.Provider
}

// New builds an Executor.
func New(opts Options) *Executor {
	return &Executor{
		layout:   opts.Layout,
		agents:   opts.Agents,
		sessions: opts.Sessions,
		cfg:      opts.Config,
		registry: opts.Registry,
		skills:   opts.Skills,
		recorder: opts.Recorder,
		fallback: opts.Fallback,
		tracer:   otel.Tracer("opengoat/executor"),
		locks:    make(map[lockKey]*sessionLock),
		restart:  providers.RestartGateway,
		now:      time.Now,
	}
}

type lockKey struct {
	agentID    string
	sessionKey string
}

// sessionLock serialises same-session invocations; waiters tracks when the
// entry can be removed from the map.
type sessionLock struct {
	mu      sync.Mutex
	waiters int
}

func (e *Executor) acquire(k lockKey) *sessionLock {
	e.mu.Lock()
	l, ok := e.locks[k]
	if !ok {
		l = &sessionLock{}
		e.locks[k] = l
	}
	l.waiters++
	e.mu.Unlock()
	l.mu.Lock()
	return l
}

func (e *Executor) release(k lockKey, l *sessionLock) {
	l.mu.Unlock()
	e.mu.Lock()
	l.waiters--
	if l.waiters == 0 {
		delete(e.locks, k)
	}
	e.mu.Unlock()
}

// Invoke starts an invocation and returns its event stream. Failures never
// surface as a Go error: they become the stream's terminal error event.
func (e *Executor) Invoke(ctx context.Context, req InvocationRequest) *stream.Stream {
	st := stream.New(stream.DefaultCapacity)
	go e.run(ctx, req, st)
	return st
}

func (e *Executor) run(ctx context.Context, req InvocationRequest, st *stream.Stream) {
	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = sessions.DefaultKey(req.AgentID)
	}

	ctx, span := e.tracer.Start(ctx, "invocation.run", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("session.key", sessionKey),
	))
	defer span.End()

	st.Emit(stream.Progress(stream.PhaseQueued, ""))

	key := lockKey{agentID: req.AgentID, sessionKey: sessionKey}
	lock := e.acquire(key)
	defer e.release(key, lock)

	st.Emit(stream.Progress(stream.PhaseRunStarted, ""))
	started := e.now()

	agent, err := e.agents.GetAgent(req.AgentID)
	if err != nil {
		e.fail(st, fmt.Sprintf("unknown agent %q", req.AgentID))
		return
	}

	cfg := e.cfg.Config()
	providerID := agent.ProviderID
	if providerID == "" {
		providerID = cfg.Providers.Default
	}
	provider, err := e.registry.Get(providerID)
	if err != nil {
		e.fail(st, fmt.Sprintf("provider %q not available", providerID))
		return
	}
	span.SetAttributes(attribute.String("provider.id", provider.ID()))

	opts := e.buildInvokeOptions(cfg, agent, provider, req, sessionKey, st)

	runDir := e.recorder.Begin(runs.Request{
		AgentID:    req.AgentID,
		SessionKey: sessionKey,
		ProviderID: provider.ID(),
		Message:    req.Message,
	})

	res, err := e.invokeWithRecovery(ctx, provider, opts, st)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "cancelled"
		}
		e.recorder.Finish(runDir, runs.Result{Code: -1, Error: msg, DurationMS: e.now().Sub(started).Milliseconds()})
		e.fail(st, msg)
		return
	}

	st.Emit(stream.Progress(stream.PhaseProviderInvocationCompleted, ""))

	e.writeHistory(req.AgentID, sessionKey, req.Message, res)
	e.recorder.Finish(runDir, runs.Result{
		Code:       res.Code,
		Output:     res.Output,
		DurationMS: e.now().Sub(started).Milliseconds(),
	})

	st.Emit(stream.Progress(stream.PhaseRunCompleted, ""))
	st.Emit(stream.ResultEvent(req.AgentID, sessionKey, res.Output, stream.ExecResult{
		Code:   res.Code,
		Stdout: res.Stdout,
		Stderr: res.Stderr,
	}))
}

// buildInvokeOptions assembles the provider call: working directory,
// system prompt and attachments per the provider's capabilities.
func (e *Executor) buildInvokeOptions(cfg config.Config, agent agents.Agent, provider providers.Provider, req InvocationRequest, sessionKey string, st *stream.Stream) providers.InvokeOptions {
	opts := providers.InvokeOptions{
		AgentID:   agent.ID,
		Message:   req.Message,
		SessionID: sessionKey,
		Images:    media.Normalize(req.Images),
	}
	if cfg.Providers.TimeoutMinutes > 0 {
		opts.Timeout = time.Duration(cfg.Providers.TimeoutMinutes) * time.Minute
	}
	opts.OnStdout = func(line string) { st.Emit(stream.Progress(stream.PhaseStdout, line)) }
	opts.OnStderr = func(line string) { st.Emit(stream.Progress(stream.PhaseStderr, line)) }

	if provider.Capabilities().Agent && provider.Kind() == providers.KindCLI {
		workspace := e.layout.AgentWorkspaceDir(agent.ID)
		opts.WorkDir = workspace

		var files []bootstrap.ContextFile
		if global, err := os.ReadFile(e.layout.GlobalConfigMarkdownPath()); err == nil && len(global) > 0 {
			files = append(files, bootstrap.ContextFile{Name: "OPENGOAT.md", Content: string(global)})
		}
		files = append(files, bootstrap.LoadWorkspaceFiles(workspace, agent.BootstrapFiles)...)
		files = bootstrap.BuildContextFiles(files, bootstrap.TruncateConfig{
			MaxCharsPerFile: cfg.DefaultAgent.BootstrapMaxChars,
			TotalMaxChars:   cfg.DefaultAgent.BootstrapTotalMaxChars,
		})

		skillsSection := req.SkillsPrompt
		if skillsSection == "" && e.skills != nil {
			skillsSection = e.skills.PromptSection(agent.ID)
		}
		opts.SystemPrompt = bootstrap.RenderPrompt(files, skillsSection)
		return opts
	}

	if req.ProjectPath != "" {
		opts.WorkDir = req.ProjectPath
	} else if cwd, err := os.Getwd(); err == nil {
		opts.WorkDir = cwd
	}
	return opts
}

// invokeWithRecovery wraps the provider call with the three recovery
// policies: gateway restart on a lost working directory, bounded wait on
// session-file contention, and RPC fallback on a missing executable.
func (e *Executor) invokeWithRecovery(ctx context.Context, provider providers.Provider, opts providers.InvokeOptions, st *stream.Stream) (providers.InvokeResult, error) {
	restarted := false
	waited := false
	fellBack := false

	for {
		st.Emit(stream.Progress(stream.PhaseProviderInvocationStarted, ""))
		res, err := e.invokeWithHeartbeats(ctx, provider, opts, st)

		if errors.Is(err, providers.ErrProviderCommandNotFound) && e.fallback != nil && !fellBack {
			fellBack = true
			slog.Warn("executor.fallback_to_gateway", "agent", opts.AgentID, "error", err)
			st.Emit(stream.Progress(stream.PhaseStderr, "provider command not found, using gateway"))
			provider = e.fallback
			continue
		}
		if err != nil {
			return res, err
		}

		switch fault := providers.Classify(res).(type) {
		case *providers.UvCwdError:
			if restarted {
				return res, nil
			}
			restarted = true
			st.Emit(stream.Progress(stream.PhaseStderr, "restarting gateway"))
			if rerr := e.restartGateway(ctx); rerr != nil {
				slog.Warn("executor.gateway_restart_failed", "error", rerr)
				return res, nil
			}
			continue

		case *providers.SessionLockError:
			if waited {
				return res, nil
			}
			waited = true
			slog.Info("executor.session_locked", "agent", opts.AgentID, "owner_pid", fault.OwnerPID, "backoff", fault.RetryAfter)
			if werr := e.waitWithHeartbeats(ctx, fault.RetryAfter, st); werr != nil {
				return res, werr
			}
			continue
		}

		return res, nil
	}
}

// invokeWithHeartbeats runs the provider call with a heartbeat ticker
// alive for its duration.
func (e *Executor) invokeWithHeartbeats(ctx context.Context, provider providers.Provider, opts providers.InvokeOptions, st *stream.Stream) (providers.InvokeResult, error) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				st.Emit(stream.Progress(stream.PhaseHeartbeat, ""))
			}
		}
	}()
	res, err := provider.Invoke(ctx, opts)
	close(done)
	return res, err
}

// waitWithHeartbeats sleeps for the lock back-off, emitting a heartbeat
// each second so subscribers see liveness.
func (e *Executor) waitWithHeartbeats(ctx context.Context, d time.Duration, st *stream.Stream) error {
	deadline := e.now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for e.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st.Emit(stream.Progress(stream.PhaseHeartbeat, ""))
		}
	}
	return nil
}

// restartGateway runs the provider's gateway restart command once across
// all concurrent invocations.
func (e *Executor) restartGateway(ctx context.Context) error {
	command := e.cfg.Config().Providers.Command
	if command == "" {
		command = "openclaw"
	}
	_, err, _ := e.restarts.Do("gateway-restart", func() (any, error) {
		return nil, e.restart(ctx, command, e.layout.Home)
	})
	return err
}

// writeHistory appends the exchange to the session transcript. Failures
// log; they never fail the invocation.
func (e *Executor) writeHistory(agentID, sessionKey, message string, res providers.InvokeResult) {
	ctx := context.Background()
	ts := e.now().UnixMilli()
	if err := e.sessions.Append(ctx, agentID, sessionKey, sessions.Message(sessions.RoleUser, message, ts)); err != nil {
		slog.Warn("executor.history_user_append_failed", "session", sessionKey, "error", err)
	}
	if res.Output != "" {
		if err := e.sessions.Append(ctx, agentID, sessionKey, sessions.Message(sessions.RoleAssistant, res.Output, e.now().UnixMilli())); err != nil {
			slog.Warn("executor.history_assistant_append_failed", "session", sessionKey, "error", err)
		}
	}
}

func (e *Executor) fail(st *stream.Stream, msg string) {
	st.Emit(stream.ErrorEvent(msg))
}
