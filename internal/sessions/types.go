package sessions

import (
	"errors"
	"strings"
)

// Transcript entry types.
const (
	EntryMessage    = "message"
	EntryCompaction = "compaction"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Entry is one NDJSON transcript line: a message or a compaction marker.
// Entries are append-only and never mutated in place.
type Entry struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Message builds a message entry stamped by the caller.
func Message(role, content string, ts int64) Entry {
	return Entry{Type: EntryMessage, Role: role, Content: content, Timestamp: ts}
}

// Compaction builds a compaction marker entry.
func Compaction(summary string, ts int64) Entry {
	return Entry{Type: EntryCompaction, Content: summary, Timestamp: ts}
}

// Metadata is the per-session document beside the transcript. Counters
// aggregate over all appended entries.
type Metadata struct {
	SessionKey      string `json:"sessionKey"`
	SessionID       string `json:"sessionId"`
	AgentID         string `json:"agentId"`
	Title           string `json:"title,omitempty"`
	ProjectPath     string `json:"projectPath,omitempty"`
	TranscriptPath  string `json:"transcriptPath"`
	InputChars      int64  `json:"inputChars"`
	OutputChars     int64  `json:"outputChars"`
	TotalChars      int64  `json:"totalChars"`
	CompactionCount int    `json:"compactionCount"`
	LastAssistantAt int64  `json:"lastAssistantAt,omitempty"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// ErrSessionNotFound is returned when a key resolves to no stored session.
var ErrSessionNotFound = errors.New("session not found")

// titleFromMessage derives a session title from the first user message:
// first line, trimmed, capped at 80 chars.
func titleFromMessage(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}
