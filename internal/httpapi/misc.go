package httpapi

import (
	"net/http"
	"time"

	"github.com/nextlevelbuilder/opengoat/internal/auth"
	"github.com/nextlevelbuilder/opengoat/internal/config"
	"github.com/nextlevelbuilder/opengoat/internal/skills"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptimeMs": time.Since(s.started).Milliseconds(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleOverview summarises the org for dashboards.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	list, err := s.agents.ListAgents()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": list,
		"totals": map[string]int{"agents": len(list)},
	})
}

// handleSkills lists global skills or one agent's effective set.
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	if s.skills == nil {
		writeJSON(w, http.StatusOK, map[string]any{"skills": []skills.Skill{}})
		return
	}
	var list []skills.Skill
	if agentID := r.URL.Query().Get("agentId"); agentID != "" {
		list = s.skills.ForAgent(agentID)
	} else {
		list = s.skills.Global()
	}
	if list == nil {
		list = []skills.Skill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": list})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	authCfg := s.cfg.Auth()
	writeJSON(w, http.StatusOK, map[string]any{
		"settings": s.cfg.Settings(),
		"authentication": map[string]any{
			"enabled":     authCfg.Enabled,
			"username":    authCfg.Username,
			"hasPassword": authCfg.HasPassword(),
		},
	})
}

type settingsRequest struct {
	Settings       *config.Settings `json:"settings,omitempty"`
	Authentication *authUpdate      `json:"authentication,omitempty"`
}

type authUpdate struct {
	Enabled         bool   `json:"enabled"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	CurrentPassword string `json:"currentPassword,omitempty"`
}

func (s *Server) handleSettingsPost(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Settings != nil {
		if _, err := s.cfg.UpdateSettings(*req.Settings); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Authentication != nil {
		if err := s.applyAuthUpdate(*req.Authentication); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.handleSettingsGet(w, r)
}

// applyAuthUpdate changes the password gate. While protection is on, any
// credential change must present the current password.
func (s *Server) applyAuthUpdate(update authUpdate) error {
	current := s.cfg.Auth()
	credentialChange := update.Password != "" || (update.Username != "" && update.Username != current.Username)

	if current.Enabled && current.HasPassword() && credentialChange {
		ok, err := auth.VerifyPassword(update.CurrentPassword, current.PasswordVerifier)
		if err != nil || !ok {
			return errInvalidCurrentPassword
		}
	}

	next := current
	next.Enabled = update.Enabled
	if update.Username != "" {
		next.Username = update.Username
	}
	if update.Password != "" {
		if err := auth.ValidatePasswordPolicy(update.Password); err != nil {
			return err
		}
		verifier, err := auth.HashPassword(update.Password)
		if err != nil {
			return err
		}
		next.PasswordVerifier = verifier
	}
	if next.Enabled && !next.HasPassword() {
		return errPasswordRequired
	}

	if err := s.cfg.UpdateAuth(next); err != nil {
		return err
	}
	if s.auth != nil && credentialChange {
		s.auth.RevokeAll()
	}
	return nil
}
