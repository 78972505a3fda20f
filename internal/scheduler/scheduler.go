// Package scheduler drives the periodic task sweeps: stale todo and
// blocked tasks, doing timeouts and inactive agents.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/executor"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/stream"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

// Invoker is the slice of the executor the scheduler needs.
type Invoker interface {
	Invoke(ctx context.Context, req executor.InvocationRequest) *stream.Stream
}

// TaskSource is the slice of the task store the sweeps consume.
// *tasks.Store satisfies it.
type TaskSource interface {
	GetTask(ctx context.Context, id string) (tasks.Task, error)
	ListStatusOlderThan(ctx context.Context, status string, minutes int) ([]string, error)
	ListDoingTaskIdsOlderThan(ctx context.Context, minutes int) ([]string, error)
	ResetTaskStatusTimeout(ctx context.Context, id, status string) error
}

// AgentDirectory is the slice of the agent store the inactivity sweep
// consumes. *agents.Store satisfies it.
type AgentDirectory interface {
	ListAgents() ([]agents.Agent, error)
	RootID() string
}

// SessionDirectory lists transcript metadata for one agent's sessions.
// *sessions.Store satisfies it.
type SessionDirectory interface {
	List(ctx context.Context, agentID string) ([]sessions.Metadata, error)
}

// Scheduler owns the cron loop. Construct with New; Start/Stop are
// idempotent and safe to call from the settings subscription.
type Scheduler struct {
	cfg      *config.Store
	agents   AgentDirectory
	tasks    TaskSource
	sessions SessionDirectory
	invoker  Invoker

	expr string
	now  func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	notified map[string]int64 // agent id → last inactivity notification (ms)
}

// Options wires the scheduler's collaborators.
type Options struct {
	Config   *config.Store
	Agents   AgentDirectory
	Tasks    TaskSource
	Sessions SessionDirectory
	Invoker  Invoker

	// IntervalMinutes overrides the tick cadence; 0 means every minute.
	IntervalMinutes int
}

// New builds a stopped scheduler.
func New(opts Options) *Scheduler {
	expr := "* * * * *"
	if opts.IntervalMinutes > 1 {
		expr = fmt.Sprintf("*/%d * * * *", opts.IntervalMinutes)
	}
	return &Scheduler{
		cfg:      opts.Config,
		agents:   opts.Agents,
		tasks:    opts.Tasks,
		sessions: opts.Sessions,
		invoker:  opts.Invoker,
		expr:     expr,
		now:      time.Now,
		notified: make(map[string]int64),
	}
}

// Bind subscribes the scheduler to settings changes so toggling
// taskCronEnabled starts or stops the loop without a restart. The returned
// func unsubscribes.
func (s *Scheduler) Bind() func() {
	s.apply(s.cfg.Settings())
	return s.cfg.Subscribe(func(next config.Settings) { s.apply(next) })
}

func (s *Scheduler) apply(settings config.Settings) {
	if settings.TaskCronEnabled {
		s.Start()
	} else {
		s.Stop()
	}
}

// Start launches the cron loop. A second Start is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	slog.Info("scheduler.started", "cron", s.expr)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("scheduler.stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(s.expr, s.now())
			if err != nil {
				slog.Warn("scheduler.cron_parse_failed", "cron", s.expr, "error", err)
				return
			}
			if due {
				s.Tick(ctx)
			}
		}
	}
}

// Tick runs the four sweeps in order. Each sweep checks the deadline
// first; an overrunning tick skips its remaining sweeps rather than
// bleeding into the next one.
func (s *Scheduler) Tick(ctx context.Context) {
	tickCtx, cancel := context.WithDeadline(ctx, s.now().Add(time.Minute))
	defer cancel()

	settings := s.cfg.Settings()
	sweeps := []struct {
		name string
		run  func(context.Context, config.Settings)
	}{
		{"todo", s.sweepTodo},
		{"blocked", s.sweepBlocked},
		{"doing_timeout", s.sweepDoingTimeout},
		{"inactivity", s.sweepInactivity},
	}
	for _, sweep := range sweeps {
		if tickCtx.Err() != nil {
			slog.Warn("scheduler.tick_overrun", "skipped_from", sweep.name)
			return
		}
		sweep.run(tickCtx, settings)
	}
}

// sweepTodo nudges assignees of todo tasks that have sat untouched for a
// full tick window.
func (s *Scheduler) sweepTodo(ctx context.Context, settings config.Settings) {
	ids, err := s.tasks.ListStatusOlderThan(ctx, tasks.StatusTodo, 1)
	if err != nil {
		slog.Warn("scheduler.todo_list_failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := s.tasks.GetTask(ctx, id)
		if err != nil {
			continue
		}
		prompt := fmt.Sprintf("Status check on task %s: %q is still in todo. Pick it up or update its status.", task.TaskID, task.Title)
		s.notify(ctx, task.AssignedTo, prompt)
		if err := s.tasks.ResetTaskStatusTimeout(ctx, id, tasks.StatusTodo); err != nil {
			slog.Warn("scheduler.todo_reset_failed", "task", id, "error", err)
		}
	}
}

// sweepBlocked surfaces each blocked task's reason to its owner.
func (s *Scheduler) sweepBlocked(ctx context.Context, settings config.Settings) {
	ids, err := s.tasks.ListStatusOlderThan(ctx, tasks.StatusBlocked, 1)
	if err != nil {
		slog.Warn("scheduler.blocked_list_failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := s.tasks.GetTask(ctx, id)
		if err != nil {
			continue
		}
		reason := task.StatusReason
		if reason == "" {
			reason = "no reason recorded"
		}
		prompt := fmt.Sprintf("Task %s (%q) is blocked: %s. Unblock it or reassign.", task.TaskID, task.Title, reason)
		s.notify(ctx, task.Owner, prompt)
		if err := s.tasks.ResetTaskStatusTimeout(ctx, id, tasks.StatusBlocked); err != nil {
			slog.Warn("scheduler.blocked_reset_failed", "task", id, "error", err)
		}
	}
}

// sweepDoingTimeout nudges assignees whose in-progress tasks exceeded the
// inactivity threshold.
func (s *Scheduler) sweepDoingTimeout(ctx context.Context, settings config.Settings) {
	ids, err := s.tasks.ListDoingTaskIdsOlderThan(ctx, settings.MaxInactivityMinutes)
	if err != nil {
		slog.Warn("scheduler.doing_list_failed", "error", err)
		return
	}
	for _, id := range ids {
		task, err := s.tasks.GetTask(ctx, id)
		if err != nil {
			continue
		}
		prompt := fmt.Sprintf("Task %s (%q) has been in doing for over %d minutes without progress. Post a worklog update or change its status.",
			task.TaskID, task.Title, settings.MaxInactivityMinutes)
		s.notify(ctx, task.AssignedTo, prompt)
		if err := s.tasks.ResetTaskStatusTimeout(ctx, id, tasks.StatusDoing); err != nil {
			slog.Warn("scheduler.doing_reset_failed", "task", id, "error", err)
		}
	}
}

// sweepInactivity tells managers about reportees that have gone quiet.
// With the ceo-only target, only direct reports of the root produce a
// notification, sent to the root.
func (s *Scheduler) sweepInactivity(ctx context.Context, settings config.Settings) {
	if !settings.NotifyManagersOfInactiveAgents {
		return
	}
	all, err := s.agents.ListAgents()
	if err != nil {
		slog.Warn("scheduler.agents_list_failed", "error", err)
		return
	}
	window := time.Duration(settings.MaxInactivityMinutes) * time.Minute
	cutoff := s.now().Add(-window).UnixMilli()
	rootID := s.agents.RootID()

	for _, agent := range all {
		if agent.IsRoot() {
			continue
		}
		target := agent.ReportsTo
		if settings.InactiveAgentNotificationTarget == config.NotifyCEOOnly {
			if agent.ReportsTo != rootID {
				continue
			}
			target = rootID
		}

		metas, err := s.sessions.List(ctx, agent.ID)
		if err != nil {
			slog.Warn("scheduler.sessions_list_failed", "agent", agent.ID, "error", err)
			continue
		}
		// Activity in any session counts, not just the default one.
		var lastAssistant int64
		for _, meta := range metas {
			if meta.LastAssistantAt > lastAssistant {
				lastAssistant = meta.LastAssistantAt
			}
		}
		if lastAssistant == 0 || lastAssistant >= cutoff {
			continue
		}
		if last, ok := s.lastNotified(agent.ID); ok && s.now().UnixMilli()-last < window.Milliseconds() {
			continue
		}

		quiet := time.Duration(s.now().UnixMilli()-lastAssistant) * time.Millisecond
		prompt := fmt.Sprintf("Your reportee %s has been inactive for %s. Check whether they are stuck.",
			agent.ID, quiet.Round(time.Minute))
		s.notify(ctx, target, prompt)
		s.markNotified(agent.ID)
	}
}

func (s *Scheduler) lastNotified(agentID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.notified[agentID]
	return last, ok
}

func (s *Scheduler) markNotified(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified[agentID] = s.now().UnixMilli()
}

// notify sends one synthesised prompt through the executor and waits for
// the terminal event so sweeps keep the per-session ordering.
func (s *Scheduler) notify(ctx context.Context, agentID, prompt string) {
	if agentID == "" {
		return
	}
	st := s.invoker.Invoke(ctx, executor.InvocationRequest{
		AgentID: agentID,
		Message: prompt,
	})
	ev, err := st.AwaitResult(ctx)
	if err != nil {
		slog.Warn("scheduler.notify_aborted", "agent", agentID, "error", err)
		return
	}
	if ev.Type == stream.TypeError {
		slog.Warn("scheduler.notify_failed", "agent", agentID, "error", ev.Error)
		return
	}
	slog.Debug("scheduler.notified", "agent", agentID, "prompt", firstLine(prompt))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
