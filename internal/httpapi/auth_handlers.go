package httpapi

import (
	"errors"
	"net/http"

	"github.com/nextlevelbuilder/opengoat/internal/auth"
)

var (
	errInvalidCurrentPassword = errors.New("current password is incorrect")
	errPasswordRequired       = errors.New("a password is required to enable authentication")
)

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	authCfg := s.cfg.Auth()
	authenticated := true
	if authCfg.Enabled && authCfg.HasPassword() {
		authenticated = s.auth != nil && s.auth.Validate(r)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authentication": map[string]any{
			"enabled":       authCfg.Enabled && authCfg.HasPassword(),
			"authenticated": authenticated,
		},
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authCfg := s.cfg.Auth()
	if !authCfg.Enabled || !authCfg.HasPassword() {
		writeError(w, http.StatusBadRequest, "authentication is not enabled")
		return
	}
	if s.auth == nil {
		writeError(w, http.StatusInternalServerError, "session manager unavailable")
		return
	}
	if !s.auth.AllowLoginAttempt() {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if authCfg.Username != "" && req.Username != authCfg.Username {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	ok, err := auth.VerifyPassword(req.Password, authCfg.PasswordVerifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verifier error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	cookie, err := s.auth.Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		http.SetCookie(w, s.auth.Revoke(r))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
