// Package bootstrap seeds the markdown scaffolding of agent workspaces.
// Seeding never overwrites: files a user has edited are left alone, and
// re-running provisioning is a no-op.
package bootstrap

import (
	"bytes"
	"embed"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.md
var templateFS embed.FS

// Identity carries the fields rendered into IDENTITY.md.
type Identity struct {
	ID          string
	DisplayName string
	Type        string
	Role        string
	ReportsTo   string
}

// templateFiles lists the templates to seed, in order.
// BOOTSTRAP.md is handled separately (only seeded for brand-new workspaces).
var templateFiles = []string{
	AgentsFile,
	SoulFile,
	IdentityFile,
}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspaceFiles seeds template files into a workspace directory.
// Only writes files that don't already exist (will not overwrite).
// BOOTSTRAP.md is only seeded if the workspace is brand new (no AGENTS.md
// exists yet). Returns the list of files that were created.
func EnsureWorkspaceFiles(workspaceDir string, id Identity) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}

	var created []string

	// Check if this is a brand-new workspace (no AGENTS.md yet)
	_, agentsErr := os.Stat(filepath.Join(workspaceDir, AgentsFile))
	isBrandNew := os.IsNotExist(agentsErr)

	for _, name := range templateFiles {
		ok, err := seedTemplate(workspaceDir, name, id)
		if err != nil {
			slog.Warn("bootstrap.seed_failed", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}

	if isBrandNew {
		ok, err := seedTemplate(workspaceDir, BootstrapFile, id)
		if err != nil {
			slog.Warn("bootstrap.seed_failed", "file", BootstrapFile, "error", err)
		} else if ok {
			created = append(created, BootstrapFile)
		}
	}

	return created, nil
}

// seedTemplate renders a template into the workspace if the target file
// doesn't exist. Returns true if the file was created.
func seedTemplate(workspaceDir, name string, id Identity) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)

	// Only create if file doesn't exist (O_EXCL)
	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	raw, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}

	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, id); err != nil {
		os.Remove(dstPath)
		return false, err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}
