package agents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/bootstrap"
	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

// maxHierarchyDepth bounds reportsTo chain walks so a corrupted graph on
// disk cannot loop forever.
const maxHierarchyDepth = 100

// Store reads and writes agent manifests under <home>/agents, maintains
// the agents.json index and provisions workspaces. Mutations are
// serialised in-process by a mutex and across processes by the index lock
// file.
type Store struct {
	layout paths.Layout
	rootID string

	mu  sync.Mutex
	gen atomic.Int64
}

// NewStore creates a store rooted at layout. rootID names the one agent
// allowed to have no manager (normally "ceo").
func NewStore(layout paths.Layout, rootID string) *Store {
	if rootID == "" {
		rootID = "ceo"
	}
	return &Store{layout: layout, rootID: rootID}
}

// RootID returns the id of the organization root.
func (s *Store) RootID() string { return s.rootID }

// Generation increases on every mutation; consumers use it to invalidate
// derived caches.
func (s *Store) Generation() int64 { return s.gen.Load() }

// EnsureAgent creates the agent if it does not exist yet and provisions
// its workspace. Calling it again with the same id is a no-op that leaves
// existing files untouched. Returns the stored agent and whether it was
// created by this call.
func (s *Store) EnsureAgent(a Agent) (Agent, bool, error) {
	if !IsNormalized(a.ID) {
		return Agent{}, false, validationf("agent id %q is not a normalized name", a.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(a.ID)
	if err == nil {
		if a.ReportsTo != "" && a.ReportsTo != existing.ReportsTo {
			return Agent{}, false, fmt.Errorf("%w: %q already reports to %q", ErrDuplicateAgent, a.ID, existing.ReportsTo)
		}
		// Re-seeding is a no-op for every pre-existing file.
		if _, seedErr := s.seedWorkspace(existing); seedErr != nil {
			return Agent{}, false, seedErr
		}
		if err := s.ensureIndexed(existing.ID); err != nil {
			return Agent{}, false, err
		}
		return existing, false, nil
	}
	if err != ErrAgentNotFound {
		return Agent{}, false, err
	}

	if a.ReportsTo == "" && a.ID != s.rootID {
		return Agent{}, false, validationf("agent %q must report to an existing agent; only %q is the root", a.ID, s.rootID)
	}
	if a.ReportsTo != "" {
		if a.ReportsTo == a.ID {
			return Agent{}, false, validationf("agent %q cannot report to itself", a.ID)
		}
		if _, err := s.load(a.ReportsTo); err != nil {
			return Agent{}, false, validationf("reportsTo %q does not resolve to an existing agent", a.ReportsTo)
		}
		if err := s.checkNoCycle(a.ID, a.ReportsTo); err != nil {
			return Agent{}, false, err
		}
	}

	if a.Type == "" {
		a.Type = TypeIndividual
		if a.ID == s.rootID {
			a.Type = TypeManager
		}
	}
	if a.Type != TypeManager && a.Type != TypeIndividual {
		return Agent{}, false, validationf("agent type %q must be %q or %q", a.Type, TypeManager, TypeIndividual)
	}
	if a.DisplayName == "" {
		a.DisplayName = a.ID
	}
	if a.WorkspaceDir == "" {
		a.WorkspaceDir = s.layout.AgentWorkspaceDir(a.ID)
	}
	if a.InternalConfigDir == "" {
		a.InternalConfigDir = s.layout.AgentInternalDir(a.ID)
	}
	now := time.Now().UnixMilli()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.save(a); err != nil {
		return Agent{}, false, err
	}
	created, err := s.seedWorkspace(a)
	if err != nil {
		return Agent{}, false, err
	}
	if err := s.addToIndex(a.ID); err != nil {
		return Agent{}, false, err
	}
	s.gen.Add(1)

	slog.Info("agents.created", "agentId", a.ID, "reportsTo", a.ReportsTo, "seeded", created)
	return a, true, nil
}

// GetAgent loads one manifest.
func (s *Store) GetAgent(id string) (Agent, error) {
	return s.load(id)
}

// ListAgents returns every agent, sorted by id. It prefers the index and
// falls back to directory enumeration (rebuilding the index) when the
// index file is missing.
func (s *Store) ListAgents() ([]Agent, error) {
	ids, ok := s.readIndex()
	if !ok {
		ids = s.enumerateAgentDirs()
		if len(ids) > 0 {
			if err := s.withIndexLock(func() error { return s.writeIndex(ids) }); err != nil {
				slog.Warn("agents.index_rebuild_failed", "error", err)
			}
		}
	}

	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.load(id)
		if err == ErrAgentNotFound {
			slog.Warn("agents.indexed_but_missing", "agentId", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Update applies a patch to one agent and persists it. Hierarchy changes
// are validated against self-loops and cycles; the root keeps no manager.
func (s *Store) Update(id string, patch UpdatePatch) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.load(id)
	if err != nil {
		return Agent{}, err
	}

	if patch.DisplayName != nil {
		a.DisplayName = *patch.DisplayName
	}
	if patch.Role != nil {
		a.Role = *patch.Role
	}
	if patch.ProviderID != nil {
		a.ProviderID = *patch.ProviderID
	}
	if patch.Type != nil {
		if *patch.Type != TypeManager && *patch.Type != TypeIndividual {
			return Agent{}, validationf("agent type %q must be %q or %q", *patch.Type, TypeManager, TypeIndividual)
		}
		a.Type = *patch.Type
	}
	if patch.ReportsTo != nil {
		next := *patch.ReportsTo
		if id == s.rootID && next != "" {
			return Agent{}, validationf("the root agent %q cannot report to anyone", s.rootID)
		}
		if id != s.rootID && next == "" {
			return Agent{}, validationf("agent %q must report to an existing agent; only %q is the root", id, s.rootID)
		}
		if next != "" {
			if next == id {
				return Agent{}, validationf("agent %q cannot report to itself", id)
			}
			if _, err := s.load(next); err != nil {
				return Agent{}, validationf("reportsTo %q does not resolve to an existing agent", next)
			}
			if err := s.checkNoCycle(id, next); err != nil {
				return Agent{}, err
			}
		}
		a.ReportsTo = next
	}

	a.UpdatedAt = time.Now().UnixMilli()
	if a.UpdatedAt < a.CreatedAt {
		a.UpdatedAt = a.CreatedAt
	}
	if err := s.save(a); err != nil {
		return Agent{}, err
	}
	s.gen.Add(1)
	return a, nil
}

// DeleteAgent removes an agent. The root is never deletable. An agent
// with reportees requires force, which re-points the reportees to the
// deleted agent's own manager before removing config and workspace.
func (s *Store) DeleteAgent(id string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.rootID {
		return validationf("the root agent %q cannot be deleted", s.rootID)
	}
	a, err := s.load(id)
	if err != nil {
		return err
	}

	all, err := s.ListAgents()
	if err != nil {
		return err
	}
	var reports []Agent
	for _, other := range all {
		if other.ReportsTo == id {
			reports = append(reports, other)
		}
	}
	if len(reports) > 0 && !force {
		return validationf("agent %q has %d reportees; delete with force to re-point them", id, len(reports))
	}
	for _, r := range reports {
		r.ReportsTo = a.ReportsTo
		r.UpdatedAt = time.Now().UnixMilli()
		if err := s.save(r); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(s.layout.AgentInternalDir(id)); err != nil {
		return err
	}
	// The workspace holds user-editable files; only force discards it.
	if force {
		if err := os.RemoveAll(s.layout.AgentWorkspaceDir(id)); err != nil {
			return err
		}
	}

	err = s.withIndexLock(func() error {
		ids, ok := s.readIndex()
		if !ok {
			ids = s.enumerateAgentDirs()
		}
		out := ids[:0]
		for _, other := range ids {
			if other != id {
				out = append(out, other)
			}
		}
		return s.writeIndex(out)
	})
	if err != nil {
		return err
	}
	s.gen.Add(1)

	slog.Info("agents.deleted", "agentId", id, "force", force, "repointed", len(reports))
	return nil
}

// SnapshotView is the full agent map plus the generation it was taken at,
// for memoised graph computations.
type SnapshotView struct {
	Agents map[string]Agent
	Gen    int64
}

// Snapshot loads every agent into a map keyed by id.
func (s *Store) Snapshot() (SnapshotView, error) {
	gen := s.gen.Load()
	list, err := s.ListAgents()
	if err != nil {
		return SnapshotView{}, err
	}
	m := make(map[string]Agent, len(list))
	for _, a := range list {
		m[a.ID] = a
	}
	return SnapshotView{Agents: m, Gen: gen}, nil
}

// checkNoCycle walks up from parent; reaching id means the edge
// id→parent would close a loop.
func (s *Store) checkNoCycle(id, parent string) error {
	cur := parent
	for depth := 0; cur != "" && depth < maxHierarchyDepth; depth++ {
		if cur == id {
			return validationf("reportsTo %q would create a reporting cycle for %q", parent, id)
		}
		next, err := s.load(cur)
		if err != nil {
			return nil // broken chain cannot loop back
		}
		cur = next.ReportsTo
	}
	return nil
}

// configError distinguishes malformed documents from missing ones.
type configError struct {
	path string
	err  error
}

func (e *configError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrInvalidAgentConfig, e.path, e.err)
}

func (e *configError) Unwrap() error { return ErrInvalidAgentConfig }

func (s *Store) load(id string) (Agent, error) {
	if id == "" {
		return Agent{}, ErrAgentNotFound
	}
	path := s.layout.AgentConfigPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, err
	}
	var a Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return Agent{}, &configError{path: path, err: err}
	}
	if a.ID == "" {
		a.ID = id
	}
	return a, nil
}

func (s *Store) save(a Agent) error {
	path := s.layout.AgentConfigPath(a.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) seedWorkspace(a Agent) ([]string, error) {
	ws := a.WorkspaceDir
	if ws == "" {
		ws = s.layout.AgentWorkspaceDir(a.ID)
	}
	return bootstrap.EnsureWorkspaceFiles(ws, bootstrap.Identity{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Type:        a.Type,
		Role:        a.Role,
		ReportsTo:   a.ReportsTo,
	})
}

func (s *Store) ensureIndexed(id string) error {
	ids, ok := s.readIndex()
	if ok {
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
	}
	return s.addToIndex(id)
}

func (s *Store) addToIndex(id string) error {
	return s.withIndexLock(func() error {
		ids, ok := s.readIndex()
		if !ok {
			ids = s.enumerateAgentDirs()
		}
		return s.writeIndex(append(ids, id))
	})
}
