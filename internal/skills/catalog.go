// Package skills discovers SKILL.md documents and renders them into agent
// context.
package skills

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

// Skill is one discovered SKILL.md document.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Scope       string `json:"scope"` // "global" or "agent"
}

const watchDebounce = 500 * time.Millisecond

// Catalog scans the global skills directory and per-agent workspace skills.
// Results are cached until the watcher sees a filesystem change.
type Catalog struct {
	layout paths.Layout

	mu      sync.Mutex
	global  []Skill
	byAgent map[string][]Skill
	dirty   bool

	watcher  *fsnotify.Watcher
	timer    *time.Timer
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCatalog builds a catalog rooted at the layout's skills directories.
func NewCatalog(layout paths.Layout) *Catalog {
	return &Catalog{
		layout:  layout,
		byAgent: make(map[string][]Skill),
		dirty:   true,
		stopCh:  make(chan struct{}),
	}
}

// Watch starts invalidating the cache on filesystem changes. Missing
// directories are tolerated; the cache then refreshes on every read.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skills watcher: %w", err)
	}
	c.watcher = watcher
	for _, dir := range []string{c.layout.SkillsDir(), c.layout.WorkspacesDir()} {
		if err := watcher.Add(dir); err != nil {
			slog.Debug("skills.watch_skipped", "dir", dir, "error", err)
		}
	}
	go c.watchLoop()
	return nil
}

// Close stops the watcher.
func (c *Catalog) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.watcher != nil {
			c.watcher.Close()
		}
	})
}

func (c *Catalog) watchLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		case _, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.scheduleInvalidate()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("skills.watch_error", "error", err)
		}
	}
}

// scheduleInvalidate debounces bursts of events into one cache drop.
func (c *Catalog) scheduleInvalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(watchDebounce, func() {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		slog.Debug("skills.cache_invalidated")
	})
}

// Global returns the skills under <home>/skills.
func (c *Catalog) Global() []Skill {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return append([]Skill(nil), c.global...)
}

// ForAgent returns the agent's workspace skills followed by global skills.
// Agent skills shadow global ones with the same name.
func (c *Catalog) ForAgent(agentID string) []Skill {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()

	agentSkills, ok := c.byAgent[agentID]
	if !ok {
		agentSkills = scanDir(filepath.Join(c.layout.AgentWorkspaceDir(agentID), "skills"), "agent")
		c.byAgent[agentID] = agentSkills
	}

	seen := make(map[string]bool, len(agentSkills))
	out := append([]Skill(nil), agentSkills...)
	for _, s := range agentSkills {
		seen[s.Name] = true
	}
	for _, s := range c.global {
		if !seen[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// PromptSection renders the "## Skills" context block for an agent, or
// empty when no skills exist.
func (c *Catalog) PromptSection(agentID string) string {
	list := c.ForAgent(agentID)
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Skills\n\n")
	b.WriteString("The following skills are available. Read the skill file before using it.\n\n")
	for _, s := range list {
		b.WriteString("- **")
		b.WriteString(s.Name)
		b.WriteString("**")
		if s.Description != "" {
			b.WriteString(": ")
			b.WriteString(s.Description)
		}
		b.WriteString(" (")
		b.WriteString(s.Path)
		b.WriteString(")\n")
	}
	return b.String()
}

func (c *Catalog) refreshLocked() {
	if !c.dirty {
		return
	}
	c.global = scanDir(c.layout.SkillsDir(), "global")
	c.byAgent = make(map[string][]Skill)
	c.dirty = false
}

// scanDir lists <dir>/<name>/SKILL.md entries.
func scanDir(dir, scope string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "SKILL.md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		name, desc := parseSkillFile(path)
		if name == "" {
			name = entry.Name()
		}
		out = append(out, Skill{Name: name, Description: desc, Path: path, Scope: scope})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// parseSkillFile pulls name and description from YAML frontmatter, falling
// back to the first heading for the name.
func parseSkillFile(path string) (name, description string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	inFrontmatter := false
	firstLine := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case firstLine && line == "---":
			inFrontmatter = true
		case inFrontmatter && line == "---":
			inFrontmatter = false
		case inFrontmatter:
			if v, ok := strings.CutPrefix(line, "name:"); ok {
				name = strings.Trim(strings.TrimSpace(v), `"'`)
			} else if v, ok := strings.CutPrefix(line, "description:"); ok {
				description = strings.Trim(strings.TrimSpace(v), `"'`)
			}
		case name == "" && strings.HasPrefix(line, "# "):
			name = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		firstLine = false
		if name != "" && description != "" && !inFrontmatter {
			break
		}
	}
	return name, description
}
