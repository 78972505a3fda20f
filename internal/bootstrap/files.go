package bootstrap

// Workspace file names seeded into a fresh agent workspace.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	IdentityFile  = "IDENTITY.md"
	BootstrapFile = "BOOTSTRAP.md"
)

// DefaultPromptFiles are the workspace files concatenated into the system
// prompt when the per-agent config does not override the list.
var DefaultPromptFiles = []string{AgentsFile, SoulFile, IdentityFile}
