package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

// Store owns the session directory tree. Appends to one session are
// serialised by a per-key mutex so two direct callers cannot interleave
// partial NDJSON lines; the executor layers its own per-session lock on
// top for invocation ordering.
type Store struct {
	layout paths.Layout

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at layout.
func NewStore(layout paths.Layout) *Store {
	return &Store{layout: layout, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) sessionDir(key string) string {
	return filepath.Join(s.layout.SessionsDir(), SanitizeKey(key))
}

func (s *Store) transcriptPath(key string) string {
	return filepath.Join(s.sessionDir(key), "transcript.ndjson")
}

func (s *Store) metadataPath(key string) string {
	return filepath.Join(s.sessionDir(key), "metadata.json")
}

// Append writes one transcript entry as a single NDJSON line and updates
// the metadata counters. The session is created on first append.
func (s *Store) Append(ctx context.Context, agentID, key string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.transcriptPath(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	meta, err := s.readMetadata(key)
	if err != nil {
		meta = Metadata{
			SessionKey:     key,
			SessionID:      SessionID(key),
			AgentID:        agentID,
			TranscriptPath: s.transcriptPath(key),
		}
	}
	if meta.AgentID == "" {
		meta.AgentID = agentID
	}
	n := int64(len(entry.Content))
	switch {
	case entry.Type == EntryCompaction:
		meta.CompactionCount++
	case entry.Role == RoleAssistant:
		meta.OutputChars += n
		meta.LastAssistantAt = entry.Timestamp
	default:
		meta.InputChars += n
	}
	meta.TotalChars += n
	if meta.Title == "" && entry.Type == EntryMessage && entry.Role == RoleUser {
		meta.Title = titleFromMessage(entry.Content)
	}
	meta.UpdatedAt = entry.Timestamp

	return s.writeMetadata(key, meta)
}

// History returns the last limit entries of a session's transcript
// (everything when limit <= 0). Missing sessions return ErrSessionNotFound.
func (s *Store) History(ctx context.Context, key string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(s.transcriptPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn trailing line from a crashed writer is skipped, not fatal.
			slog.Warn("sessions.transcript_line_malformed", "sessionKey", key, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Stats returns the session metadata. Missing sessions return
// ErrSessionNotFound.
func (s *Store) Stats(ctx context.Context, key string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.readMetadata(key)
}

// Rename sets the session title.
func (s *Store) Rename(ctx context.Context, key, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMetadata(key)
	if err != nil {
		return err
	}
	meta.Title = name
	meta.UpdatedAt = time.Now().UnixMilli()
	return s.writeMetadata(key, meta)
}

// Remove deletes the session directory, transcript included.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(key)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()

	slog.Info("sessions.removed", "sessionKey", key)
	return nil
}

// List returns every session's metadata, newest first, optionally
// filtered to one agent.
func (s *Store) List(ctx context.Context, agentID string) ([]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirs, err := os.ReadDir(s.layout.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Metadata
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.layout.SessionsDir(), d.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Warn("sessions.metadata_malformed", "dir", d.Name(), "error", err)
			continue
		}
		if agentID != "" && meta.AgentID != agentID {
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// RemoveForAgent deletes every session belonging to one agent. Used when
// an agent is force-deleted.
func (s *Store) RemoveForAgent(ctx context.Context, agentID string) error {
	all, err := s.List(ctx, agentID)
	if err != nil {
		return err
	}
	for _, meta := range all {
		if err := s.Remove(ctx, meta.SessionKey); err != nil && err != ErrSessionNotFound {
			return err
		}
	}
	return nil
}

func (s *Store) readMetadata(key string) (Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrSessionNotFound
		}
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse session metadata %s: %w", key, err)
	}
	return meta, nil
}

// writeMetadata persists metadata with write-temp-then-rename so a crash
// never leaves a torn document beside an intact transcript.
func (s *Store) writeMetadata(key string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := s.sessionDir(key)
	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
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
	return os.Rename(tmpName, s.metadataPath(key))
}
