package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
	"github.com/nextlevelbuilder/opengoat/internal/providers"
	"github.com/nextlevelbuilder/opengoat/internal/runs"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/stream"
)

// fakeProvider scripts successive Invoke outcomes.
type fakeProvider struct {
	id   string
	kind string
	caps providers.Capabilities

	mu      sync.Mutex
	results []providers.InvokeResult
	errs    []error
	calls   []providers.InvokeOptions
	block   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeProvider) ID() string                          { return f.id }
func (f *fakeProvider) Kind() string                        { return f.kind }
func (f *fakeProvider) Capabilities() providers.Capabilities { return f.caps }

func (f *fakeProvider) Invoke(ctx context.Context, opts providers.InvokeOptions) (providers.InvokeResult, error) {
	if v := f.inFlight.Add(1); v > f.maxInFlight.Load() {
		f.maxInFlight.Store(v)
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	f.calls = append(f.calls, opts)
	n := len(f.calls) - 1
	var res providers.InvokeResult
	var err error
	if n < len(f.results) {
		res = f.results[n]
	}
	if n < len(f.errs) {
		err = f.errs[n]
	}
	block := f.block
	f.mu.Unlock()

	if block > 0 {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(block):
		}
	}
	return res, err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestExecutor(t *testing.T, fake *fakeProvider) (*Executor, paths.Layout) {
	t.Helper()
	layout := paths.Layout{Home: t.TempDir()}

	agentStore := agents.NewStore(layout, "ceo")
	if _, _, err := agentStore.EnsureAgent(agents.Agent{ID: "ceo", DisplayName: "CEO", Type: agents.TypeManager, ProviderID: fake.id}); err != nil {
		t.Fatal(err)
	}

	cfgStore, err := config.NewStore(layout.GlobalConfigJSONPath())
	if err != nil {
		t.Fatal(err)
	}

	registry := providers.NewRegistry()
	registry.Register(fake.id, func() (providers.Provider, error) { return fake, nil })

	return New(Options{
		Layout:   layout,
		Agents:   agentStore,
		Sessions: sessions.NewStore(layout),
		Config:   cfgStore,
		Registry: registry,
		Recorder: runs.NewRecorder(layout, false),
	}), layout
}

func collect(t *testing.T, st *stream.Stream) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []stream.Event
	for {
		ev, ok := st.Next(ctx)
		if !ok {
			t.Fatalf("stream ended without terminal event: %+v", events)
		}
		events = append(events, ev)
		if ev.Terminal() {
			return events
		}
	}
}

func phases(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == stream.TypeProgress {
			out = append(out, ev.Phase)
		} else {
			out = append(out, ev.Type)
		}
	}
	return out
}

func TestInvokeHappyPath(t *testing.T) {
	fake := &fakeProvider{
		id:   "fake",
		kind: providers.KindCLI,
		caps: providers.Capabilities{Agent: true},
		results: []providers.InvokeResult{
			{Code: 0, Output: "hello back", ProviderSessionID: "p-1"},
		},
	}
	e, layout := newTestExecutor(t, fake)

	st := e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hello"})
	events := collect(t, st)

	want := []string{"queued", "run_started", "provider_invocation_started",
		"provider_invocation_completed", "run_completed", "result"}
	got := phases(events)
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases[%d] = %q, want %q (%v)", i, got[i], want[i], got)
		}
	}

	final := events[len(events)-1]
	if final.Output != "hello back" || final.Result == nil || final.Result.Code != 0 {
		t.Errorf("result event = %+v", final)
	}

	// Exchange written back to the transcript.
	store := sessions.NewStore(layout)
	history, err := store.History(context.Background(), sessions.DefaultKey("ceo"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(history))
	}
	if history[0].Role != sessions.RoleUser || history[0].Content != "hello" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != sessions.RoleAssistant || history[1].Content != "hello back" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestInvokeSystemPromptFromWorkspace(t *testing.T) {
	fake := &fakeProvider{
		id:      "fake",
		kind:    providers.KindCLI,
		caps:    providers.Capabilities{Agent: true},
		results: []providers.InvokeResult{{Code: 0, Output: "ok"}},
	}
	e, layout := newTestExecutor(t, fake)

	workspace := layout.AgentWorkspaceDir("ceo")
	os.WriteFile(filepath.Join(workspace, "SOUL.md"), []byte("stay focused"), 0o644)
	os.WriteFile(layout.GlobalConfigMarkdownPath(), []byte("org wide rules"), 0o644)

	collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "go"}))

	if fake.callCount() != 1 {
		t.Fatalf("provider called %d times", fake.callCount())
	}
	opts := fake.calls[0]
	if opts.WorkDir != workspace {
		t.Errorf("workDir = %q, want %q", opts.WorkDir, workspace)
	}
	if !strings.Contains(opts.SystemPrompt, "org wide rules") {
		t.Errorf("global doc missing from prompt: %q", opts.SystemPrompt)
	}
	if !strings.Contains(opts.SystemPrompt, "stay focused") {
		t.Errorf("workspace doc missing from prompt: %q", opts.SystemPrompt)
	}
	if idx := strings.Index(opts.SystemPrompt, "org wide rules"); idx > strings.Index(opts.SystemPrompt, "stay focused") {
		t.Error("global doc not prepended")
	}
}

func TestInvokeUnknownAgent(t *testing.T) {
	fake := &fakeProvider{id: "fake", kind: providers.KindCLI}
	e, _ := newTestExecutor(t, fake)

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ghost", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeError || !strings.Contains(final.Error, "ghost") {
		t.Errorf("terminal = %+v", final)
	}
	if fake.callCount() != 0 {
		t.Errorf("provider called %d times for unknown agent", fake.callCount())
	}
}

func TestInvokeNonZeroExitIsResult(t *testing.T) {
	fake := &fakeProvider{
		id:      "fake",
		kind:    providers.KindCLI,
		caps:    providers.Capabilities{Agent: true},
		results: []providers.InvokeResult{{Code: 3, Stderr: "boom"}},
	}
	e, _ := newTestExecutor(t, fake)

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeResult {
		t.Fatalf("terminal = %+v, want result", final)
	}
	if final.Result.Code != 3 || final.Result.Stderr != "boom" {
		t.Errorf("result = %+v", final.Result)
	}
	if fake.callCount() != 1 {
		t.Errorf("unrecognised failure retried: %d calls", fake.callCount())
	}
}

func TestInvokeSessionLockRetry(t *testing.T) {
	fake := &fakeProvider{
		id:   "fake",
		kind: providers.KindCLI,
		caps: providers.Capabilities{Agent: true},
		results: []providers.InvokeResult{
			{Code: 1, Stderr: "session file locked by pid 77 retry-after=1"},
			{Code: 0, Output: "second try"},
		},
	}
	e, _ := newTestExecutor(t, fake)

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeResult || final.Output != "second try" {
		t.Fatalf("terminal = %+v", final)
	}
	if fake.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", fake.callCount())
	}
}

func TestInvokeFallbackOnMissingCommand(t *testing.T) {
	primary := &fakeProvider{
		id:   "fake",
		kind: providers.KindCLI,
		caps: providers.Capabilities{Agent: true},
		errs: []error{providers.ErrProviderCommandNotFound},
	}
	fallback := &fakeProvider{
		id:      "gw",
		kind:    providers.KindHTTP,
		results: []providers.InvokeResult{{Code: 0, Output: "via gateway"}},
	}

	e, _ := newTestExecutor(t, primary)
	e.fallback = fallback

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeResult || final.Output != "via gateway" {
		t.Fatalf("terminal = %+v", final)
	}
	if primary.callCount() != 1 || fallback.callCount() != 1 {
		t.Errorf("calls: primary=%d fallback=%d", primary.callCount(), fallback.callCount())
	}
}

func TestInvokeFallbackOnlyOnce(t *testing.T) {
	primary := &fakeProvider{
		id:   "fake",
		kind: providers.KindCLI,
		caps: providers.Capabilities{Agent: true},
		errs: []error{providers.ErrProviderCommandNotFound},
	}
	fallback := &fakeProvider{
		id:   "gw",
		kind: providers.KindHTTP,
		errs: []error{providers.ErrProviderCommandNotFound},
	}

	e, _ := newTestExecutor(t, primary)
	e.fallback = fallback

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeError {
		t.Fatalf("terminal = %+v", final)
	}
	if primary.callCount() != 1 || fallback.callCount() != 1 {
		t.Errorf("calls: primary=%d fallback=%d", primary.callCount(), fallback.callCount())
	}
}

func TestInvokeRestartsGatewayOnceOnUvCwd(t *testing.T) {
	fake := &fakeProvider{
		id:   "fake",
		kind: providers.KindCLI,
		caps: providers.Capabilities{Agent: true},
		results: []providers.InvokeResult{
			{Code: 1, Stderr: "Error: uv_cwd"},
			{Code: 0, Output: "after restart"},
		},
	}
	e, _ := newTestExecutor(t, fake)

	var restarts atomic.Int32
	e.restart = func(ctx context.Context, command, home string) error {
		restarts.Add(1)
		return nil
	}

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeResult || final.Output != "after restart" {
		t.Fatalf("terminal = %+v", final)
	}
	if got := restarts.Load(); got != 1 {
		t.Errorf("restart called %d times, want 1", got)
	}
	if fake.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", fake.callCount())
	}
}

func TestInvokeNoSecondRestartWhenRetryFails(t *testing.T) {
	fake := &fakeProvider{
		id:   "fake",
		kind: providers.KindCLI,
		caps: providers.Capabilities{Agent: true},
		results: []providers.InvokeResult{
			{Code: 1, Stderr: "Error: uv_cwd"},
			{Code: 1, Stderr: "Error: uv_cwd"},
		},
	}
	e, _ := newTestExecutor(t, fake)

	var restarts atomic.Int32
	e.restart = func(ctx context.Context, command, home string) error {
		restarts.Add(1)
		return nil
	}

	events := collect(t, e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"}))
	final := events[len(events)-1]
	if final.Type != stream.TypeResult || final.Result == nil || final.Result.Code != 1 {
		t.Fatalf("terminal = %+v", final)
	}
	if got := restarts.Load(); got != 1 {
		t.Errorf("restart called %d times, want 1", got)
	}
	if fake.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", fake.callCount())
	}
}

func TestInvokeCancellation(t *testing.T) {
	fake := &fakeProvider{
		id:    "fake",
		kind:  providers.KindCLI,
		caps:  providers.Capabilities{Agent: true},
		block: time.Minute,
	}
	e, _ := newTestExecutor(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	st := e.Invoke(ctx, InvocationRequest{AgentID: "ceo", Message: "hi"})
	time.Sleep(50 * time.Millisecond)
	cancel()

	events := collect(t, st)
	final := events[len(events)-1]
	if final.Type != stream.TypeError || final.Error != "cancelled" {
		t.Errorf("terminal = %+v", final)
	}
}

func TestInvokeSerialisesSameSession(t *testing.T) {
	fake := &fakeProvider{
		id:      "fake",
		kind:    providers.KindCLI,
		caps:    providers.Capabilities{Agent: true},
		results: make([]providers.InvokeResult, 4),
		block:   20 * time.Millisecond,
	}
	e, _ := newTestExecutor(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := e.Invoke(context.Background(), InvocationRequest{AgentID: "ceo", Message: "hi"})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := st.AwaitResult(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if fake.callCount() != 4 {
		t.Errorf("provider called %d times, want 4", fake.callCount())
	}
	if max := fake.maxInFlight.Load(); max != 1 {
		t.Errorf("max concurrent provider calls = %d, want 1 for one session", max)
	}
}
