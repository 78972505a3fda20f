package agents

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(paths.Layout{Home: t.TempDir()}, "ceo")
}

func mustEnsure(t *testing.T, s *Store, a Agent) Agent {
	t.Helper()
	got, _, err := s.EnsureAgent(a)
	if err != nil {
		t.Fatalf("EnsureAgent(%s): %v", a.ID, err)
	}
	return got
}

func seedOrg(t *testing.T, s *Store) {
	t.Helper()
	mustEnsure(t, s, Agent{ID: "ceo", DisplayName: "CEO", Type: TypeManager})
	mustEnsure(t, s, Agent{ID: "cto", Type: TypeManager, ReportsTo: "ceo"})
	mustEnsure(t, s, Agent{ID: "eng", ReportsTo: "cto"})
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"simple", "CTO", "cto", false},
		{"spaces", "  Senior QA Engineer ", "senior-qa-engineer", false},
		{"symbols collapse", "ops//on_call!!lead", "ops-on-call-lead", false},
		{"leading symbols", "--ops", "ops", false},
		{"trailing symbols", "ops--", "ops", false},
		{"digits", "agent 007", "agent-007", false},
		{"empty", "   ", "", true},
		{"only symbols", "!!!", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func workspaceDigest(t *testing.T, dir string) [sha256.Size]byte {
	t.Helper()
	h := sha256.New()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		h.Write([]byte(path))
		h.Write(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func TestEnsureAgentIdempotent(t *testing.T) {
	s := newTestStore(t)
	first := mustEnsure(t, s, Agent{ID: "ceo", DisplayName: "CEO"})

	before := workspaceDigest(t, first.WorkspaceDir)

	again, created, err := s.EnsureAgent(Agent{ID: "ceo", DisplayName: "Someone Else"})
	if err != nil {
		t.Fatalf("second EnsureAgent: %v", err)
	}
	if created {
		t.Error("second EnsureAgent reported created=true")
	}
	if again.DisplayName != "CEO" {
		t.Errorf("DisplayName = %q, existing manifest should win", again.DisplayName)
	}
	if after := workspaceDigest(t, first.WorkspaceDir); after != before {
		t.Error("workspace changed on re-ensure")
	}

	list, err := s.ListAgents()
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, a := range list {
		if a.ID == "ceo" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("index contains ceo %d times, want exactly once", count)
	}
}

func TestEnsureAgentConflictingParent(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	// Same id, same manager: idempotent.
	if _, created, err := s.EnsureAgent(Agent{ID: "eng", ReportsTo: "cto"}); err != nil || created {
		t.Fatalf("re-ensure = (created=%v, err=%v), want existing", created, err)
	}

	// Same id under a different manager: conflict.
	_, _, err := s.EnsureAgent(Agent{ID: "eng", ReportsTo: "ceo"})
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("EnsureAgent(eng under ceo) = %v, want ErrDuplicateAgent", err)
	}
}

func TestEnsureAgentValidation(t *testing.T) {
	s := newTestStore(t)
	mustEnsure(t, s, Agent{ID: "ceo"})

	tests := []struct {
		name string
		a    Agent
	}{
		{"non-normalized id", Agent{ID: "Not Normalized", ReportsTo: "ceo"}},
		{"second root", Agent{ID: "shadow-root"}},
		{"self loop", Agent{ID: "loop", ReportsTo: "loop"}},
		{"unknown parent", Agent{ID: "orphan", ReportsTo: "ghost"}},
		{"bad type", Agent{ID: "weird", ReportsTo: "ceo", Type: "contractor"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.EnsureAgent(tt.a)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("EnsureAgent(%s) error = %v, want ValidationError", tt.a.ID, err)
			}
		})
	}
}

func TestUpdateRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	// cto → eng while eng → cto would loop.
	eng := "eng"
	_, err := s.Update("cto", UpdatePatch{ReportsTo: &eng})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Update error = %v, want ValidationError", err)
	}
}

func TestUpdateReparent(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	ceo := "ceo"
	got, err := s.Update("eng", UpdatePatch{ReportsTo: &ceo})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.ReportsTo != "ceo" {
		t.Errorf("ReportsTo = %q, want ceo", got.ReportsTo)
	}

	reloaded, err := s.GetAgent("eng")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ReportsTo != "ceo" {
		t.Errorf("persisted ReportsTo = %q, want ceo", reloaded.ReportsTo)
	}
}

func TestListAgentsFallsBackToEnumeration(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	if err := os.Remove(s.layout.AgentsIndexJSONPath()); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	// Enumeration rebuilds the index.
	if _, err := os.Stat(s.layout.AgentsIndexJSONPath()); err != nil {
		t.Errorf("index not rebuilt: %v", err)
	}
}

func TestIndexDocumentShape(t *testing.T) {
	s := newTestStore(t)
	mustEnsure(t, s, Agent{ID: "ceo"})
	mustEnsure(t, s, Agent{ID: "cto", ReportsTo: "ceo"})

	data, err := os.ReadFile(s.layout.AgentsIndexJSONPath())
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Agents    []string `json:"agents"`
		UpdatedAt int64    `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("index unmarshal: %v", err)
	}
	if len(doc.Agents) != 2 || doc.Agents[0] != "ceo" || doc.Agents[1] != "cto" {
		t.Errorf("agents = %v, want [ceo cto]", doc.Agents)
	}
	if doc.UpdatedAt == 0 {
		t.Error("updatedAt not bumped")
	}
}

func TestMalformedAgentConfig(t *testing.T) {
	s := newTestStore(t)
	mustEnsure(t, s, Agent{ID: "ceo"})

	path := s.layout.AgentConfigPath("ceo")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetAgent("ceo")
	if !errors.Is(err, ErrInvalidAgentConfig) {
		t.Errorf("GetAgent error = %v, want ErrInvalidAgentConfig", err)
	}
}

func TestDeleteAgent(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	if err := s.DeleteAgent("ceo", true); err == nil {
		t.Error("deleting the root succeeded, want refusal")
	}

	// cto has a reportee; plain delete refuses, force re-points.
	if err := s.DeleteAgent("cto", false); err == nil {
		t.Error("deleting manager without force succeeded")
	}
	if err := s.DeleteAgent("cto", true); err != nil {
		t.Fatalf("force delete: %v", err)
	}

	eng, err := s.GetAgent("eng")
	if err != nil {
		t.Fatal(err)
	}
	if eng.ReportsTo != "ceo" {
		t.Errorf("eng.ReportsTo = %q, want re-pointed to ceo", eng.ReportsTo)
	}

	if _, err := s.GetAgent("cto"); err != ErrAgentNotFound {
		t.Errorf("GetAgent(cto) = %v, want ErrAgentNotFound", err)
	}
	if _, err := os.Stat(s.layout.AgentWorkspaceDir("cto")); !os.IsNotExist(err) {
		t.Error("cto workspace still present after force delete")
	}

	// Plain delete removes the manifest but keeps the workspace.
	if err := s.DeleteAgent("eng", false); err != nil {
		t.Fatalf("delete eng: %v", err)
	}
	if _, err := s.GetAgent("eng"); err != ErrAgentNotFound {
		t.Errorf("GetAgent(eng) = %v, want ErrAgentNotFound", err)
	}
	if _, err := os.Stat(s.layout.AgentWorkspaceDir("eng")); err != nil {
		t.Errorf("eng workspace removed without force: %v", err)
	}
}

func TestGenerationBumpsOnMutation(t *testing.T) {
	s := newTestStore(t)
	g0 := s.Generation()
	mustEnsure(t, s, Agent{ID: "ceo"})
	if s.Generation() == g0 {
		t.Error("generation unchanged after create")
	}
}
