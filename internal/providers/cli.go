package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

// killGrace is how long a cancelled subprocess gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// DefaultTimeout is the subprocess wall-clock budget when the caller sets
// none.
const DefaultTimeout = 15 * time.Minute

// CLIProvider spawns the provider executable (OPENCLAW_CMD, default
// "openclaw") as a child process per invocation.
type CLIProvider struct {
	id      string
	layout  paths.Layout
	command string
	args    []string
	caps    Capabilities
}

// CLIConfig parameterises NewCLIProvider.
type CLIConfig struct {
	ID      string
	Command string
	Args    []string
}

// NewCLIProvider builds the subprocess-backed provider.
func NewCLIProvider(layout paths.Layout, cfg CLIConfig) *CLIProvider {
	id := cfg.ID
	if id == "" {
		id = DefaultProviderID
	}
	command := cfg.Command
	if command == "" {
		command = "openclaw"
	}
	return &CLIProvider{
		id:      id,
		layout:  layout,
		command: command,
		args:    cfg.Args,
		caps: Capabilities{
			Agent:       true,
			Model:       true,
			Auth:        true,
			AgentCreate: true,
			AgentDelete: true,
		},
	}
}

func (p *CLIProvider) ID() string                 { return p.id }
func (p *CLIProvider) Kind() string               { return KindCLI }
func (p *CLIProvider) Capabilities() Capabilities { return p.caps }

// Invoke runs one agent turn in a child process. Stdout and stderr are
// drained on dedicated goroutines; the last parseable JSON object on
// stdout may carry {sessionId, output}.
func (p *CLIProvider) Invoke(ctx context.Context, opts InvokeOptions) (InvokeResult, error) {
	stored, err := LoadStoredConfig(p.layout, p.id)
	if err != nil {
		return InvokeResult{}, err
	}

	command := p.command
	if stored.Command != "" {
		command = stored.Command
	}
	if _, err := exec.LookPath(command); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return InvokeResult{}, fmt.Errorf("%w: %s", ErrProviderCommandNotFound, command)
		}
		return InvokeResult{}, err
	}

	args := append([]string{}, p.args...)
	args = append(args, stored.Arguments...)
	args = append(args, "agent", "--agent", opts.AgentID, "--message", opts.Message, "--json")
	if opts.SessionID != "" {
		args = append(args, "--session-id", opts.SessionID)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	for _, img := range opts.Images {
		args = append(args, "--image", img.DataURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = buildEnviron(LayerEnv(nil, stored.Env, opts.Env))
	cmd.Cancel = func() error {
		// SIGTERM first; WaitDelay escalates to SIGKILL.
		if cmd.Process != nil {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		return nil
	}
	cmd.WaitDelay = killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return InvokeResult{}, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return InvokeResult{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return InvokeResult{}, err
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return InvokeResult{}, fmt.Errorf("%w: %s", ErrProviderCommandNotFound, command)
		}
		return InvokeResult{}, err
	}
	stdin.Close()

	var wg sync.WaitGroup
	var outBuf, errBuf strings.Builder
	wg.Add(2)
	go func() {
		defer wg.Done()
		drainLines(stdout, &outBuf, opts.OnStdout)
	}()
	go func() {
		defer wg.Done()
		drainLines(stderr, &errBuf, opts.OnStderr)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	res := InvokeResult{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.Code = exitErr.ExitCode()
		} else {
			return res, waitErr
		}
	}
	if runCtx.Err() != nil {
		return res, runCtx.Err()
	}

	res.Output, res.ProviderSessionID = parseLastJSONObject(res.Stdout)
	if res.Output == "" {
		res.Output = strings.TrimRight(res.Stdout, "\n")
	}
	return res, nil
}

// drainLines copies a pipe into buf line by line, forwarding each line to
// cb when set. Newlines are preserved in the buffer.
func drainLines(r interface{ Read([]byte) (int, error) }, buf *strings.Builder, cb func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if cb != nil {
			cb(line + "\n")
		}
	}
}

// parseLastJSONObject scans stdout bottom-up for the last line that
// decodes to a {sessionId, output} object.
func parseLastJSONObject(stdout string) (output, sessionID string) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj struct {
			SessionID string `json:"sessionId"`
			Output    string `json:"output"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if obj.SessionID != "" || obj.Output != "" {
			return obj.Output, obj.SessionID
		}
	}
	return "", ""
}

// buildEnviron merges overlay onto the process environment.
func buildEnviron(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return os.Environ()
	}
	out := make([]string, 0, len(os.Environ())+len(overlay))
	for _, kv := range os.Environ() {
		key := kv[:strings.IndexByte(kv, '=')]
		if _, shadowed := overlay[key]; !shadowed {
			out = append(out, kv)
		}
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}

// RestartGateway runs `<command> gateway restart --json` in the home
// directory. The executor calls it once per invocation on UvCwdError.
func RestartGateway(ctx context.Context, command, homeDir string) error {
	if command == "" {
		command = "openclaw"
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, "gateway", "restart", "--json")
	cmd.Dir = homeDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gateway restart: %w: %s", err, strings.TrimSpace(string(out)))
	}
	slog.Info("provider.gateway_restarted", "command", command)
	return nil
}
