// Package providers invokes the external provider runtime that produces
// assistant responses: a CLI subprocess by default, with a WebSocket
// gateway RPC fallback. Providers are capability-tagged records held in a
// registry, not a class hierarchy.
package providers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Provider kinds.
const (
	KindCLI  = "cli"
	KindHTTP = "http"
)

// DefaultProviderID applies when per-agent config omits a provider.
const DefaultProviderID = "openclaw"

// Capabilities tags what a provider can do. Dispatch is by flags.
type Capabilities struct {
	Agent       bool `json:"agent"`
	Model       bool `json:"model"`
	Auth        bool `json:"auth"`
	Passthrough bool `json:"passthrough"`
	Reportees   bool `json:"reportees"`
	AgentCreate bool `json:"agentCreate"`
	AgentDelete bool `json:"agentDelete"`
}

// Provider is one invokable runtime.
type Provider interface {
	ID() string
	Kind() string
	Capabilities() Capabilities
	Invoke(ctx context.Context, opts InvokeOptions) (InvokeResult, error)
}

// AuthInvoker is implemented by providers that support auth flows.
type AuthInvoker interface {
	InvokeAuth(ctx context.Context, opts InvokeOptions) (InvokeResult, error)
}

// AgentLifecycle is implemented by providers that can create and delete
// agents on their side of the boundary.
type AgentLifecycle interface {
	CreateAgent(ctx context.Context, agentID string) error
	DeleteAgent(ctx context.Context, agentID string) error
}

// Image is one attachment passed through to the provider.
type Image struct {
	DataURL   string `json:"dataUrl"`
	MediaType string `json:"mediaType"`
	Name      string `json:"name,omitempty"`
}

// InvokeOptions parameterise one provider call.
type InvokeOptions struct {
	AgentID      string
	Message      string
	SystemPrompt string
	SessionID    string // provider-side session to resume, empty for new
	WorkDir      string
	Env          map[string]string // layered over stored config and defaults
	Images       []Image
	Timeout      time.Duration

	// OnStdout/OnStderr receive output lines as the provider produces
	// them. Nil callbacks discard nothing: the full text is still
	// collected into the result.
	OnStdout func(line string)
	OnStderr func(line string)
}

// InvokeResult is the provider outcome. A non-zero Code is data, not an
// error: the caller surfaces it verbatim.
type InvokeResult struct {
	Code              int
	Stdout            string
	Stderr            string
	Output            string // parsed assistant output when available
	ProviderSessionID string
}

var (
	// ErrProviderCommandNotFound marks a provider executable missing from
	// PATH. The executor falls back to the gateway RPC path.
	ErrProviderCommandNotFound = errors.New("provider command not found")
	// ErrProviderNotFound marks an unregistered provider id.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrInvalidProviderConfig wraps an unparseable or wrong-version
	// stored provider config.
	ErrInvalidProviderConfig = errors.New("invalid provider config")
)

// UvCwdError marks the stale-working-directory failure mode of the
// provider child process. The executor restarts the gateway once and
// retries.
type UvCwdError struct{ Stderr string }

func (e *UvCwdError) Error() string { return "provider lost its working directory (uv_cwd)" }

// SessionLockError marks contention on the provider's session file. The
// executor waits RetryAfter and retries once without a restart.
type SessionLockError struct {
	OwnerPID   int
	RetryAfter time.Duration
}

func (e *SessionLockError) Error() string {
	return fmt.Sprintf("provider session file locked by pid %d", e.OwnerPID)
}

// maxLockBackoff caps the parsed retry-after.
const maxLockBackoff = 10 * time.Second

var (
	uvCwdRe       = regexp.MustCompile(`uv_cwd|process\.cwd failed.*EPERM`)
	sessionLockRe = regexp.MustCompile(`session file locked.*?pid[ =:]*(\d+)`)
	retryAfterRe  = regexp.MustCompile(`retry(?:[ -]after)?[ =:]*(\d+)`)
)

// Classify inspects a failed invocation and returns the typed failure
// when the stderr matches a known fault signature, or nil when the result
// should surface verbatim.
func Classify(res InvokeResult) error {
	if res.Code == 0 {
		return nil
	}
	stderr := res.Stderr
	if uvCwdRe.MatchString(stderr) {
		return &UvCwdError{Stderr: stderr}
	}
	if m := sessionLockRe.FindStringSubmatch(stderr); m != nil {
		pid, _ := strconv.Atoi(m[1])
		backoff := 5 * time.Second
		if rm := retryAfterRe.FindStringSubmatch(stderr); rm != nil {
			if secs, err := strconv.Atoi(rm[1]); err == nil {
				backoff = time.Duration(secs) * time.Second
			}
		}
		if backoff > maxLockBackoff {
			backoff = maxLockBackoff
		}
		return &SessionLockError{OwnerPID: pid, RetryAfter: backoff}
	}
	return nil
}
