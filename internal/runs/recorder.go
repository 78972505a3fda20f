// Package runs optionally records per-invocation request/result snapshots
// for debugging.
package runs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/opengoat/internal/paths"
)

// Recorder writes one directory per invocation under runs/. It is
// best-effort end to end: every failure logs and the invocation proceeds.
type Recorder struct {
	layout  paths.Layout
	enabled bool
	now     func() time.Time
}

// Request is the invocation snapshot written before dispatch.
type Request struct {
	AgentID    string `json:"agentId"`
	SessionKey string `json:"sessionKey"`
	ProviderID string `json:"providerId"`
	Message    string `json:"message"`
	StartedAt  int64  `json:"startedAt"`
}

// Result is the outcome snapshot written after the run settles.
type Result struct {
	Code       int    `json:"code"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
	FinishedAt int64  `json:"finishedAt"`
}

// NewRecorder builds a recorder; a disabled one records nothing.
func NewRecorder(layout paths.Layout, enabled bool) *Recorder {
	return &Recorder{layout: layout, enabled: enabled, now: time.Now}
}

// Begin creates the run directory and writes request.json. The returned
// path identifies the run; empty means recording is off or failed.
func (r *Recorder) Begin(req Request) string {
	if r == nil || !r.enabled {
		return ""
	}
	ts := r.now().UTC()
	dir := filepath.Join(r.layout.RunsDir(), fmt.Sprintf("%s-%s", ts.Format("20060102T150405"), uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("runs.begin_failed", "error", err)
		return ""
	}
	req.StartedAt = ts.UnixMilli()
	if err := writeJSONFile(filepath.Join(dir, "request.json"), req); err != nil {
		slog.Warn("runs.request_write_failed", "dir", dir, "error", err)
	}
	return dir
}

// Finish writes result.json into the run directory from Begin.
func (r *Recorder) Finish(dir string, res Result) {
	if r == nil || !r.enabled || dir == "" {
		return
	}
	res.FinishedAt = r.now().UnixMilli()
	if err := writeJSONFile(filepath.Join(dir, "result.json"), res); err != nil {
		slog.Warn("runs.result_write_failed", "dir", dir, "error", err)
	}
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
