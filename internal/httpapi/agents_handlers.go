package httpapi

import (
	"net/http"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
)

func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.agents.ListAgents()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": list})
}

type createAgentRequest struct {
	Name      string `json:"name"`
	ReportsTo string `json:"reportsTo"`
	Role      string `json:"role,omitempty"`
	Type      string `json:"type,omitempty"`
}

func (s *Server) handleAgentsCreate(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := agents.NormalizeName(req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agentType := req.Type
	if agentType == "" {
		agentType = agents.TypeIndividual
	}

	agent, created, err := s.agents.EnsureAgent(agents.Agent{
		ID:          id,
		DisplayName: req.Name,
		Type:        agentType,
		ReportsTo:   req.ReportsTo,
		Role:        req.Role,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"agent": agent, "created": created})
}

func (s *Server) handleAgentsDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.agents.DeleteAgent(id, force); err != nil {
		writeDomainError(w, err)
		return
	}
	if force {
		if err := s.sessions.RemoveForAgent(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
