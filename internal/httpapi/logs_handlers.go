package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/logbuf"
)

// logsHeartbeatInterval paces keepalive frames under follow.
const logsHeartbeatInterval = 15 * time.Second

type logFrame struct {
	Type    string         `json:"type"` // snapshot | log | heartbeat | error
	Entries []logbuf.Entry `json:"entries,omitempty"`
	Entry   *logbuf.Entry  `json:"entry,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// handleLogsStream writes a snapshot frame, then follows the buffer as
// NDJSON when follow=true.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusInternalServerError, "log buffer unavailable")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	follow := r.URL.Query().Get("follow") == "true"

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	snapshot := s.logs.Snapshot(limit)
	if snapshot == nil {
		snapshot = []logbuf.Entry{}
	}
	enc.Encode(logFrame{Type: "snapshot", Entries: snapshot})
	flusher.Flush()
	if !follow {
		return
	}

	entries, unsubscribe := s.logs.Subscribe()
	defer unsubscribe()
	heartbeat := time.NewTicker(logsHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-entries:
			if !ok {
				enc.Encode(logFrame{Type: "error", Error: "log buffer closed"})
				flusher.Flush()
				return
			}
			if err := enc.Encode(logFrame{Type: "log", Entry: &entry}); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if err := enc.Encode(logFrame{Type: "heartbeat"}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
