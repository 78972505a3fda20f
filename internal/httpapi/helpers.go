package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/authz"
	"github.com/nextlevelbuilder/opengoat/internal/providers"
	"github.com/nextlevelbuilder/opengoat/internal/sessions"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http.response_encode_failed", "error", err)
	}
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEnvelope{Error: msg})
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorEnvelope{Error: msg, Code: code})
}

// writeDomainError maps store errors onto the REST status contract.
func writeDomainError(w http.ResponseWriter, err error) {
	var taskValidation *tasks.ValidationError
	var agentValidation *agents.ValidationError
	var authzErr *authz.Error

	switch {
	case errors.As(err, &taskValidation), errors.As(err, &agentValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &authzErr):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, agents.ErrAgentNotFound),
		errors.Is(err, sessions.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agents.ErrDuplicateAgent):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, providers.ErrProviderCommandNotFound):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody parses a JSON request body into v; false means the error
// response was already written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
