package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCatalogGlobal(t *testing.T) {
	layout := paths.Layout{Home: t.TempDir()}
	writeSkill(t, layout.SkillsDir(), "deploy", "---\nname: deploy\ndescription: Ship a release\n---\n\nSteps here.\n")
	writeSkill(t, layout.SkillsDir(), "triage", "# Triage incoming bugs\n\nNo frontmatter.\n")

	c := NewCatalog(layout)
	got := c.Global()
	if len(got) != 2 {
		t.Fatalf("got %d skills, want 2", len(got))
	}
	if got[0].Name != "Triage incoming bugs" && got[1].Name != "Triage incoming bugs" {
		t.Errorf("heading fallback missing: %+v", got)
	}
	for _, s := range got {
		if s.Name == "deploy" && s.Description != "Ship a release" {
			t.Errorf("deploy description = %q", s.Description)
		}
		if s.Scope != "global" {
			t.Errorf("scope = %q", s.Scope)
		}
	}
}

func TestCatalogAgentShadowsGlobal(t *testing.T) {
	layout := paths.Layout{Home: t.TempDir()}
	writeSkill(t, layout.SkillsDir(), "deploy", "---\nname: deploy\ndescription: global deploy\n---\n")
	agentSkills := filepath.Join(layout.AgentWorkspaceDir("ceo"), "skills")
	writeSkill(t, agentSkills, "deploy", "---\nname: deploy\ndescription: ceo deploy\n---\n")
	writeSkill(t, agentSkills, "review", "---\nname: review\ndescription: review PRs\n---\n")

	c := NewCatalog(layout)
	got := c.ForAgent("ceo")
	if len(got) != 2 {
		t.Fatalf("got %d skills, want 2 (agent shadows global): %+v", len(got), got)
	}
	for _, s := range got {
		if s.Name == "deploy" && s.Description != "ceo deploy" {
			t.Errorf("agent skill did not shadow global: %+v", s)
		}
	}
}

func TestPromptSection(t *testing.T) {
	layout := paths.Layout{Home: t.TempDir()}

	c := NewCatalog(layout)
	if section := c.PromptSection("ceo"); section != "" {
		t.Fatalf("empty catalog rendered %q", section)
	}

	writeSkill(t, layout.SkillsDir(), "deploy", "---\nname: deploy\ndescription: Ship a release\n---\n")
	c2 := NewCatalog(layout)
	section := c2.PromptSection("ceo")
	if !strings.HasPrefix(section, "## Skills\n") {
		t.Errorf("section header missing: %q", section)
	}
	if !strings.Contains(section, "**deploy**: Ship a release") {
		t.Errorf("skill line missing: %q", section)
	}
}

func TestCacheRefreshAfterInvalidate(t *testing.T) {
	layout := paths.Layout{Home: t.TempDir()}
	c := NewCatalog(layout)
	if got := c.Global(); len(got) != 0 {
		t.Fatalf("got %d skills, want 0", len(got))
	}

	writeSkill(t, layout.SkillsDir(), "deploy", "---\nname: deploy\n---\n")
	if got := c.Global(); len(got) != 0 {
		t.Fatal("cache refreshed without invalidation")
	}

	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
	if got := c.Global(); len(got) != 1 {
		t.Fatalf("got %d skills after invalidation, want 1", len(got))
	}
}
