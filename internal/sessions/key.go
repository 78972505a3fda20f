// Package sessions persists append-only conversation transcripts, one
// NDJSON file plus a metadata document per session key.
//
// Session keys are stable, externally visible identifiers. A prefix
// distinguishes the kind:
//
//	project:{path-label}     project-scoped work session
//	ui-agent:{agentId}       the agent's default UI/scheduler session
//	ws:{connId}              WebSocket chat surface session
package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Session key prefixes.
const (
	PrefixProject = "project:"
	PrefixUIAgent = "ui-agent:"
	PrefixWS      = "ws:"
)

// DefaultKey is the session used when a caller supplies no sessionRef:
// ui-agent:{agentId}.
func DefaultKey(agentID string) string {
	return PrefixUIAgent + agentID
}

// SessionID derives the content-addressed id for a key: the first 16 hex
// chars of its SHA-256.
func SessionID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// SanitizeKey maps a session key to a directory name: colons and path
// separators become underscores.
func SanitizeKey(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return r.Replace(key)
}
