package protocol

// ProtocolVersion is bumped on breaking frame changes.
const ProtocolVersion = 1

// RPC method names observed on the gateway wire.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	MethodAgent = "agent"

	MethodConfigGet   = "config.get"
	MethodConfigApply = "config.apply"

	MethodSessionsList = "sessions.list"

	MethodAgentsCreate = "agents.create"
	MethodAgentsDelete = "agents.delete"
)
