package protocol

// Event names pushed from the gateway between a request and its response.
const (
	EventAgent    = "agent"
	EventHealth   = "health"
	EventShutdown = "shutdown"
)

// Agent event payload types carried inside EventAgent frames.
const (
	AgentEventStarted   = "run.started"
	AgentEventChunk     = "chunk"
	AgentEventCompleted = "run.completed"
	AgentEventFailed    = "run.failed"
)
