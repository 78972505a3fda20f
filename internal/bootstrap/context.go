package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Truncation defaults for context assembly.
const (
	DefaultMaxCharsPerFile = 20000
	DefaultTotalMaxChars   = 60000
)

// ContextFile is one workspace document headed for the system prompt.
type ContextFile struct {
	Name    string
	Content string
}

// TruncateConfig bounds per-file and total prompt size.
type TruncateConfig struct {
	MaxCharsPerFile int
	TotalMaxChars   int
}

func (c TruncateConfig) withDefaults() TruncateConfig {
	if c.MaxCharsPerFile <= 0 {
		c.MaxCharsPerFile = DefaultMaxCharsPerFile
	}
	if c.TotalMaxChars <= 0 {
		c.TotalMaxChars = DefaultTotalMaxChars
	}
	return c
}

// LoadWorkspaceFiles reads the named files from the workspace. Missing and
// empty files are skipped; nil names means DefaultPromptFiles.
func LoadWorkspaceFiles(workspaceDir string, names []string) []ContextFile {
	if len(names) == 0 {
		names = DefaultPromptFiles
	}
	var out []ContextFile
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, ContextFile{Name: name, Content: string(data)})
	}
	return out
}

// BuildContextFiles applies the truncation budget: each file is capped at
// MaxCharsPerFile and the running total at TotalMaxChars. Files past the
// total budget are dropped.
func BuildContextFiles(files []ContextFile, cfg TruncateConfig) []ContextFile {
	cfg = cfg.withDefaults()
	var out []ContextFile
	total := 0
	for _, f := range files {
		content := f.Content
		if len(content) > cfg.MaxCharsPerFile {
			content = content[:cfg.MaxCharsPerFile] + "\n\n[...truncated]"
		}
		if total+len(content) > cfg.TotalMaxChars {
			remaining := cfg.TotalMaxChars - total
			if remaining <= 0 {
				break
			}
			content = content[:remaining] + "\n\n[...truncated]"
		}
		total += len(content)
		out = append(out, ContextFile{Name: f.Name, Content: content})
	}
	return out
}

// RenderPrompt concatenates context files into one system prompt, each
// under a header naming its source file.
func RenderPrompt(files []ContextFile, extraSections ...string) string {
	var b strings.Builder
	for _, f := range files {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "# %s\n\n%s", f.Name, strings.TrimRight(f.Content, "\n"))
	}
	for _, section := range extraSections {
		if section == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimRight(section, "\n"))
	}
	return b.String()
}
