package agents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// indexDoc is the agents.json document: a sorted, de-duplicated id list
// plus the last mutation time.
type indexDoc struct {
	Agents    []string `json:"agents"`
	UpdatedAt int64    `json:"updatedAt"`
}

const (
	indexLockSuffix  = ".lock"
	indexLockTimeout = 5 * time.Second
	indexLockStale   = 10 * time.Second
)

// withIndexLock runs fn while holding the cross-process index lock file.
// A second writer (e.g. a CLI against the same home) blocks here instead
// of interleaving index writes.
func (s *Store) withIndexLock(fn func() error) error {
	lockPath := s.layout.AgentsIndexJSONPath() + indexLockSuffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}

	deadline := time.Now().Add(indexLockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			break
		}
		if !os.IsExist(err) {
			return err
		}
		if fi, statErr := os.Stat(lockPath); statErr == nil && time.Since(fi.ModTime()) > indexLockStale {
			// Holder died; take the lock over.
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agents index locked: %s", lockPath)
		}
		time.Sleep(25 * time.Millisecond)
	}
	defer os.Remove(lockPath)

	return fn()
}

// readIndex returns the id list, or ok=false when the index file is
// missing or unreadable (caller falls back to directory enumeration).
func (s *Store) readIndex() (ids []string, ok bool) {
	data, err := os.ReadFile(s.layout.AgentsIndexJSONPath())
	if err != nil {
		return nil, false
	}
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("agents.index_malformed", "path", s.layout.AgentsIndexJSONPath(), "error", err)
		return nil, false
	}
	return doc.Agents, true
}

// writeIndex persists a sorted, de-duplicated id list with a bumped
// updatedAt, atomically.
func (s *Store) writeIndex(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)

	doc := indexDoc{Agents: out, UpdatedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := s.layout.AgentsIndexJSONPath()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".agents-*.json")
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

// enumerateAgentDirs lists agent ids by scanning agents/<id>/config.json,
// used when the index file is missing.
func (s *Store) enumerateAgentDirs() []string {
	entries, err := os.ReadDir(s.layout.AgentsDir())
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.layout.AgentConfigPath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids
}
