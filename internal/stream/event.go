// Package stream carries the per-invocation event channel between the
// executor and its subscribers: ordered progress events ending in exactly
// one result or error.
package stream

import "time"

// Event type discriminators.
const (
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeError    = "error"
)

// Progress phases, in state-machine order. stdout, stderr and heartbeat
// may repeat between provider_invocation_started and _completed.
const (
	PhaseQueued                      = "queued"
	PhaseRunStarted                  = "run_started"
	PhaseProviderInvocationStarted   = "provider_invocation_started"
	PhaseProviderInvocationCompleted = "provider_invocation_completed"
	PhaseRunCompleted                = "run_completed"
	PhaseStdout                      = "stdout"
	PhaseStderr                      = "stderr"
	PhaseHeartbeat                   = "heartbeat"
)

// Event is the tagged union written as one NDJSON line per event.
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// progress
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message,omitempty"`

	// result
	AgentID    string      `json:"agentId,omitempty"`
	SessionRef string      `json:"sessionRef,omitempty"`
	Output     string      `json:"output,omitempty"`
	Result     *ExecResult `json:"result,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// ExecResult is the provider outcome attached to a result event. A
// non-zero Code is data, not an error.
type ExecResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool { return e.Type == TypeResult || e.Type == TypeError }

// Progress builds a progress event stamped with the current time.
func Progress(phase, message string) Event {
	return Event{Type: TypeProgress, Phase: phase, Message: message, Timestamp: time.Now().UnixMilli()}
}

// ResultEvent builds the terminal success event (any exit code).
func ResultEvent(agentID, sessionRef, output string, res ExecResult) Event {
	return Event{
		Type:       TypeResult,
		AgentID:    agentID,
		SessionRef: sessionRef,
		Output:     output,
		Result:     &res,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// ErrorEvent builds the terminal failure event.
func ErrorEvent(msg string) Event {
	return Event{Type: TypeError, Error: msg, Timestamp: time.Now().UnixMilli()}
}
