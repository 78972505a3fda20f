package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/opengoat/internal/executor"
	"github.com/nextlevelbuilder/opengoat/internal/providers"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/stream"
)

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context(), r.URL.Query().Get("agentId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []sessions.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

type sessionRefRequest struct {
	AgentID    string `json:"agentId"`
	SessionRef string `json:"sessionRef"`
	Name       string `json:"name,omitempty"`
}

func (s *Server) handleSessionsRemove(w http.ResponseWriter, r *http.Request) {
	var req sessionRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.sessions.Remove(r.Context(), req.SessionRef); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionsRename(w http.ResponseWriter, r *http.Request) {
	var req sessionRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.sessions.Rename(r.Context(), req.SessionRef, req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionsHistory(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("sessionRef")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "sessionRef is required")
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
	history, err := s.sessions.History(r.Context(), ref, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if history == nil {
		history = []sessions.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

type messageRequest struct {
	AgentID     string            `json:"agentId"`
	Message     string            `json:"message"`
	SessionRef  string            `json:"sessionRef,omitempty"`
	ProjectPath string            `json:"projectPath,omitempty"`
	Images      []providers.Image `json:"images,omitempty"`
}

func (r messageRequest) invocation() executor.InvocationRequest {
	return executor.InvocationRequest{
		AgentID:     r.AgentID,
		Message:     r.Message,
		SessionKey:  r.SessionRef,
		ProjectPath: r.ProjectPath,
		Images:      r.Images,
	}
}

func (r messageRequest) validate() string {
	if r.AgentID == "" {
		return "agentId is required"
	}
	if r.Message == "" {
		return "message is required"
	}
	return ""
}

// handleMessage runs an invocation and answers with the terminal event
// once it settles. Provider non-zero exits are data, not HTTP errors.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	st := s.invoker.Invoke(r.Context(), req.invocation())
	ev, err := st.AwaitResult(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ev.Type == stream.TypeError {
		writeError(w, http.StatusInternalServerError, ev.Error)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleMessageStream emits the invocation's events as NDJSON, one
// complete object per line, flushed per event.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	st := s.invoker.Invoke(r.Context(), req.invocation())
	enc := json.NewEncoder(w)
	for {
		ev, ok := st.Next(r.Context())
		if !ok {
			return
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
		if ev.Terminal() {
			return
		}
	}
}
