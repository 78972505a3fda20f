// Package paths resolves the on-disk layout of an OpenGoat home directory.
// All returned paths are absolute; nothing here creates directories, the
// stores do that on first write.
package paths

import (
	"os"
	"path/filepath"
)

// DefaultHomeDirName is the directory created under the user home when no
// explicit home is configured.
const DefaultHomeDirName = ".opengoat"

// Layout holds the resolved absolute paths for a single home directory.
type Layout struct {
	Home string
}

// Resolve picks the home directory: explicit value > OPENGOAT_HOME >
// ~/.opengoat. A leading ~ in either source is expanded.
func Resolve(explicit string) (Layout, error) {
	home := explicit
	if home == "" {
		home = os.Getenv("OPENGOAT_HOME")
	}
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return Layout{}, err
		}
		home = filepath.Join(userHome, DefaultHomeDirName)
	}
	home = ExpandHome(home)
	abs, err := filepath.Abs(home)
	if err != nil {
		return Layout{}, err
	}
	return Layout{Home: abs}, nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
		return filepath.Join(home, path[2:])
	}
	return home
}

func (l Layout) WorkspacesDir() string   { return filepath.Join(l.Home, "workspaces") }
func (l Layout) OrganizationDir() string { return filepath.Join(l.Home, "organization") }
func (l Layout) AgentsDir() string       { return filepath.Join(l.Home, "agents") }
func (l Layout) SkillsDir() string       { return filepath.Join(l.Home, "skills") }
func (l Layout) ProvidersDir() string    { return filepath.Join(l.Home, "providers") }
func (l Layout) SessionsDir() string     { return filepath.Join(l.Home, "sessions") }
func (l Layout) RunsDir() string         { return filepath.Join(l.Home, "runs") }

// GlobalConfigJSONPath is the global settings + default agent document.
func (l Layout) GlobalConfigJSONPath() string { return filepath.Join(l.Home, "config.json") }

// GlobalConfigMarkdownPath is the optional global instructions file
// prepended to every assembled system prompt.
func (l Layout) GlobalConfigMarkdownPath() string { return filepath.Join(l.Home, "OPENGOAT.md") }

// AgentsIndexJSONPath is the sorted agent id index.
func (l Layout) AgentsIndexJSONPath() string { return filepath.Join(l.Home, "agents.json") }

// TasksDBPath is the SQLite task board file.
func (l Layout) TasksDBPath() string { return filepath.Join(l.Home, "boards.sqlite") }

// AgentConfigPath is the per-agent runtime config document.
func (l Layout) AgentConfigPath(agentID string) string {
	return filepath.Join(l.AgentsDir(), agentID, "config.json")
}

// AgentWorkspaceDir is the directory an agent exclusively owns.
func (l Layout) AgentWorkspaceDir(agentID string) string {
	return filepath.Join(l.WorkspacesDir(), agentID)
}

// AgentInternalDir holds agent-internal state outside the workspace.
func (l Layout) AgentInternalDir(agentID string) string {
	return filepath.Join(l.AgentsDir(), agentID)
}

// ProviderConfigPath is the stored config for one provider id.
func (l Layout) ProviderConfigPath(providerID string) string {
	return filepath.Join(l.ProvidersDir(), providerID, "config.json")
}
